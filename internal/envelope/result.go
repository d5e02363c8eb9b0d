package envelope

// Result 统一响应封装：成功与可恢复失败都使用同一结构
type Result[T any] struct {
	OK          bool         `json:"ok"`
	Data        *T           `json:"data,omitempty"`
	Error       string       `json:"error,omitempty"`
	ErrorCode   Code         `json:"error_code,omitempty"`
	Kind        Kind         `json:"kind,omitempty"`
	Hint        string       `json:"hint,omitempty"`
	RequestID   string       `json:"request_id,omitempty"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// OK 成功结果
func OK[T any](data T, requestID string) Result[T] {
	return Result[T]{OK: true, Data: &data, RequestID: requestID}
}

// Fail 由错误构造失败结果；非 *Error 的错误归为 upstream
func Fail[T any](err error, requestID string) Result[T] {
	r := Result[T]{OK: false, RequestID: requestID}
	if err == nil {
		r.Error = "unknown error"
		r.ErrorCode = CodeUpstreamNoDetail
		r.Kind = KindUpstream
		r.Hint = HintForCode(CodeUpstreamNoDetail)
		return r
	}
	e, ok := As(err)
	if !ok {
		e = Wrap(KindUpstream, CodeUpstreamError, err)
	}
	r.Error = e.Message
	r.ErrorCode = e.Code
	r.Kind = e.Kind
	r.Hint = e.Hint
	r.Diagnostics = e.Diagnostics
	if r.RequestID == "" && e.Diagnostics != nil {
		r.RequestID = e.Diagnostics.RequestID
	}
	return r
}
