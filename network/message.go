package network

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
)

// FileMessageType tags a message carrying a ledger file.
const FileMessageType = "blockchain_file"

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrBadFilename    = errors.New("invalid file name")
)

// Message is the single JSON object sent over a connection. The sender
// closes its side once the object is written; there is no other framing.
type Message struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// NewFileMessage wraps the content of a file. Only the base name of
// filename is sent.
func NewFileMessage(filename string, data []byte) Message {
	return Message{
		Type:     FileMessageType,
		Filename: filepath.Base(filename),
		FileData: base64.StdEncoding.EncodeToString(data),
	}
}

// File validates the message and returns the name and decoded content of
// the file it carries.
func (m Message) File() (string, []byte, error) {
	if m.Type != FileMessageType {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	name := filepath.Base(m.Filename)
	if m.Filename == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", nil, fmt.Errorf("%w: %q", ErrBadFilename, m.Filename)
	}
	data, err := base64.StdEncoding.DecodeString(m.FileData)
	if err != nil {
		return "", nil, fmt.Errorf("decode file data: %w", err)
	}
	return name, data, nil
}
