package federation

import (
	"errors"
	"fmt"
)

// ErrorKind 联邦错误类别（封闭集）
type ErrorKind string

const (
	KindClassificationFailed  ErrorKind = "ClassificationFailed"
	KindGenerationUnavailable ErrorKind = "GenerationUnavailable"
	KindValidationRejected    ErrorKind = "ValidationRejected"
	KindExecutionTimeout      ErrorKind = "ExecutionTimeout"
	KindConnectionUnavailable ErrorKind = "ConnectionUnavailable"
	KindExecutionError        ErrorKind = "ExecutionError"
)

// Error 带类别的联邦错误。
// ExecutionError 的后端原生消息只进日志，不进 prompt、不回显给调用方。
type Error struct {
	Kind   ErrorKind
	Reason RejectReason // 仅 ValidationRejected 时填充
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Reason != "":
		return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Reason, e.Msg)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Msg, e.Cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError 构造带类别的错误
func NewError(kind ErrorKind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// NewRejection 构造校验拒绝错误
func NewRejection(reason RejectReason, detail string) error {
	return &Error{Kind: KindValidationRejected, Reason: reason, Msg: detail}
}

// KindOf 提取错误类别；非联邦错误返回空串
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// RejectReasonOf 提取拒绝原因；非拒绝错误返回空串
func RejectReasonOf(err error) RejectReason {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}
