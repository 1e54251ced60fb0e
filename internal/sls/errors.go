package sls

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is a non-2xx PutLogs response.
type Error struct {
	HTTPCode  int    `json:"httpCode"`
	Code      string `json:"errorCode"`
	Message   string `json:"errorMessage"`
	RequestID string `json:"requestID"`
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("sls: %d %s: %s (request %s)", e.HTTPCode, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("sls: %d %s: %s", e.HTTPCode, e.Code, e.Message)
}

// StatusCode returns the HTTP status of the response.
func (e *Error) StatusCode() int { return e.HTTPCode }

// Error codes the service uses for conditions that clear on their own.
const (
	CodeWriteQuotaExceed      = "WriteQuotaExceed"
	CodeShardWriteQuotaExceed = "ShardWriteQuotaExceed"
	CodeExceedQuota           = "ExceedQuota"
	CodeServerBusy            = "ServerBusy"
	CodeInternalServerError   = "InternalServerError"
	CodeRequestTimeout        = "RequestTimeout"

	CodeUnauthorized       = "Unauthorized"
	CodeSignatureNotMatch  = "SignatureNotMatch"
	CodeLogStoreNotExist   = "LogStoreNotExist"
	CodeProjectNotExist    = "ProjectNotExist"
	CodeInvalidCompress    = "InvalidCompressType"
	CodePostBodyInvalid    = "PostBodyInvalid"
	CodeMissingHeader      = "MissingParameter"
	CodeInvalidContentType = "InvalidContentType"
)

// Throttled reports whether the service asked the caller to slow down or
// failed in a way that a later attempt may not repeat.
func (e *Error) Throttled() bool {
	switch e.Code {
	case CodeWriteQuotaExceed, CodeShardWriteQuotaExceed, CodeExceedQuota,
		CodeServerBusy, CodeInternalServerError, CodeRequestTimeout:
		return true
	}
	return false
}

func decodeError(resp *http.Response, body []byte) *Error {
	e := &Error{}
	if len(body) > 0 {
		_ = json.Unmarshal(body, e)
	}
	e.HTTPCode = resp.StatusCode
	if e.Code == "" {
		e.Code = http.StatusText(resp.StatusCode)
	}
	if e.Message == "" {
		e.Message = string(body)
	}
	if id := resp.Header.Get(HeaderRequestID); id != "" {
		e.RequestID = id
	}
	return e
}
