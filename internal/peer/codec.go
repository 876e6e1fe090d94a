package peer

import (
	"encoding/json"
	"strings"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// fileTransferProtocol is the named stream protocol from §6.2.
const fileTransferProtocol = protocol.ID("/ku-file-transfer/1.0.0")

// errorSentinelPrefix marks a fileResponse as a failure per §4.10: on
// failure the response carries this prefix in FileName and no content.
const errorSentinelPrefix = "KUDrive Error: "

type fileRequest struct {
	FileName   string `json:"file_name"`
	TargetPath string `json:"target_path"`
	SavePath   string `json:"save_path"`
}

type fileResponse struct {
	FileName string `json:"file_name"`
	SrcPath  string `json:"src_path"`
	TgtPath  string `json:"tgt_path"`
	Content  []byte `json:"content"`
}

func errorResponse(fileName, srcPath, tgtPath string, cause error) fileResponse {
	return fileResponse{
		FileName: errorSentinelPrefix + cause.Error(),
		SrcPath:  srcPath,
		TgtPath:  tgtPath,
	}
}

func (r fileResponse) isError() bool {
	return strings.HasPrefix(r.FileName, errorSentinelPrefix)
}

func (r fileResponse) errorMessage() string {
	return strings.TrimPrefix(r.FileName, errorSentinelPrefix)
}

func writeJSON(w jsonWriter, v any) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

func readJSON(r jsonReader, v any) error {
	dec := json.NewDecoder(r)
	return dec.Decode(v)
}

// jsonWriter/jsonReader narrow io.Writer/io.Reader to what the codec
// needs, letting codec_test.go exercise it against bytes.Buffer
// without pulling in a real libp2p stream.
type jsonWriter interface {
	Write(p []byte) (int, error)
}

type jsonReader interface {
	Read(p []byte) (int, error)
}
