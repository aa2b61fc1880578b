package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnencodable      = errors.New("message cannot be encoded")
)

type TaskRequest struct {
	OriginalFile []byte
	VariantId    string
}

type TaskResponse struct {
	VariantFile []byte
	VariantId   string
}

// The wire structs use pointers so that absent and null fields can be told
// apart from empty ones. encoding/json carries []byte as standard base64.
type taskRequestEnvelope struct {
	OriginalFile *[]byte `json:"original_file"`
	VariantId    *string `json:"variant_id"`
}

type taskResponseEnvelope struct {
	VariantFile *[]byte `json:"variant_file"`
	VariantId   *string `json:"variant_id"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

func checkEncodable(variantId string) error {
	if !utf8.ValidString(variantId) {
		return fmt.Errorf("%w: variant_id is not valid utf-8", ErrUnencodable)
	}
	return nil
}

func EncodeTaskRequest(req TaskRequest) ([]byte, error) {
	if err := checkEncodable(req.VariantId); err != nil {
		return nil, err
	}
	file := req.OriginalFile
	if file == nil {
		file = []byte{}
	}
	body, err := json.Marshal(taskRequestEnvelope{OriginalFile: &file, VariantId: &req.VariantId})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnencodable, err)
	}
	return body, nil
}

func DecodeTaskRequest(body []byte) (TaskRequest, error) {
	var env taskRequestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TaskRequest{}, malformed("error decoding task request: %v", err)
	}
	if env.OriginalFile == nil {
		return TaskRequest{}, malformed("task request is missing original_file")
	}
	if env.VariantId == nil {
		return TaskRequest{}, malformed("task request is missing variant_id")
	}
	return TaskRequest{OriginalFile: *env.OriginalFile, VariantId: *env.VariantId}, nil
}

func EncodeTaskResponse(resp TaskResponse) ([]byte, error) {
	if err := checkEncodable(resp.VariantId); err != nil {
		return nil, err
	}
	file := resp.VariantFile
	if file == nil {
		file = []byte{}
	}
	body, err := json.Marshal(taskResponseEnvelope{VariantFile: &file, VariantId: &resp.VariantId})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnencodable, err)
	}
	return body, nil
}

func DecodeTaskResponse(body []byte) (TaskResponse, error) {
	var env taskResponseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TaskResponse{}, malformed("error decoding task response: %v", err)
	}
	if env.VariantFile == nil {
		return TaskResponse{}, malformed("task response is missing variant_file")
	}
	if env.VariantId == nil {
		return TaskResponse{}, malformed("task response is missing variant_id")
	}
	return TaskResponse{VariantFile: *env.VariantFile, VariantId: *env.VariantId}, nil
}
