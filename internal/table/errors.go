package table

import (
	"errors"
	"fmt"
)

// エラー分類。呼び出し側は errors.Is で判定します。
var (
	// ErrSchemaEmpty はリモートがフィールド0件を返し、スキーマとして利用できない場合のエラーです。
	ErrSchemaEmpty = errors.New("remote returned empty schema")
	// ErrSchemaUnavailable はキャッシュも同期も失敗し、スキーマを提供できない場合のエラーです。
	ErrSchemaUnavailable = errors.New("schema unavailable")
)

// Error はAPIレスポンスに変換できるドメインエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
