package cli

import (
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// readPushFile reads a push body from path ("-" for stdin). JSONC comments
// and trailing commas are stripped so hand-written fixtures can carry notes.
func readPushFile(path string, stdin func() ([]byte, error)) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = stdin()
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read push file: %w", err)
	}
	return jsonc.ToJSON(data), nil
}
