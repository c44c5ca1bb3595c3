package llm

import (
	"bufio"
	"bytes"
	"io"
)

// readEvents calls fn with the payload of every "data:" line of an SSE
// stream. Other fields are ignored. fn returns false to stop reading.
func readEvents(r io.Reader, fn func(data []byte) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			if data, ok := bytes.CutPrefix(line, []byte("data:")); ok {
				if !fn(bytes.TrimPrefix(data, []byte(" "))) {
					return nil
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
