package graphapi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// MaxTextChunkSize bounds the tEXt chunks GetPngMetadata reads.
const MaxTextChunkSize = 64 << 20

// ErrNoEmbeddedPrompt is returned when a PNG carries no "prompt" text chunk.
var ErrNoEmbeddedPrompt = errors.New("png has no embedded prompt")

// GetPngMetadata returns the tEXt chunks of a PNG stream, keyed by keyword.
// ComfyUI stores the API-format graph under "prompt" and the UI-format graph
// under "workflow".
func GetPngMetadata(r io.Reader) (map[string]string, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	txtChunks := make(map[string]string)
	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}

		switch string(chunkType) {
		case "tEXt":
			if length > MaxTextChunkSize {
				return nil, fmt.Errorf("tEXt chunk of %d bytes exceeds %d", length, MaxTextChunkSize)
			}
			chunkData := make([]byte, length)
			if _, err := io.ReadFull(r, chunkData); err != nil {
				return nil, err
			}
			keywordEnd := bytes.IndexByte(chunkData, 0)
			if keywordEnd == -1 {
				return nil, errors.New("malformed tEXt chunk")
			}
			txtChunks[string(chunkData[:keywordEnd])] = string(chunkData[keywordEnd+1:])
		case "IEND":
			return txtChunks, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// crc
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
	}

	return txtChunks, nil
}

// NewGraphFromPNGReader extracts the API-format graph ComfyUI embeds in the
// images it saves.
func NewGraphFromPNGReader(r io.Reader) (*Graph, error) {
	meta, err := GetPngMetadata(r)
	if err != nil {
		return nil, err
	}
	prompt, ok := meta["prompt"]
	if !ok || strings.TrimSpace(prompt) == "" {
		return nil, ErrNoEmbeddedPrompt
	}
	g, err := NewGraphFromJsonString(prompt)
	if err != nil {
		return nil, fmt.Errorf("embedded prompt: %w", err)
	}
	return g, nil
}

func NewGraphFromPNGFile(path string) (*Graph, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return NewGraphFromPNGReader(freader)
}
