package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
)

type ImageType string

const (
	InputImageType  ImageType = "input"
	TempImageType   ImageType = "temp"
	OutputImageType ImageType = "output"
)

// UploadFileFromReader uploads an image and returns the name the server
// stored it under, which may differ from filename.
func (c *ComfyClient) UploadFileFromReader(ctx context.Context, r io.Reader, filename string, overwrite bool, filetype ImageType, subfolder string) (string, error) {
	const op = "upload image"

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	formFile, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(formFile, r); err != nil {
		return "", err
	}

	_ = writer.WriteField("overwrite", fmt.Sprintf("%v", overwrite))
	_ = writer.WriteField("type", string(filetype))
	if subfolder != "" {
		_ = writer.WriteField("subfolder", subfolder)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	body, err := c.request(ctx, op, http.MethodPost, "/upload/image", nil, &requestBody, writer.FormDataContentType(), c.requestTimeout)
	if err != nil {
		return "", err
	}

	var data struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", &APIError{Op: op, Kind: KindProtocol, StatusCode: http.StatusOK, Body: truncateBody(body), Err: err}
	}
	if data.Name == "" {
		return "", &APIError{Op: op, Kind: KindProtocol, StatusCode: http.StatusOK, Body: truncateBody(body), Err: errors.New("response has no name")}
	}
	return data.Name, nil
}

// UploadImage uploads encoded image bytes into the server's input folder.
func (c *ComfyClient) UploadImage(ctx context.Context, data []byte, filename string, overwrite bool) (string, error) {
	return c.UploadFileFromReader(ctx, bytes.NewReader(data), filepath.Base(filename), overwrite, InputImageType, "")
}
