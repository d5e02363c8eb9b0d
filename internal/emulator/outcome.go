package emulator

import (
	"fmt"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/platform"
)

// OutcomeKind 推送结果分类
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomePartial OutcomeKind = "partial"
	OutcomeFailed  OutcomeKind = "failed"
)

// DisplayErrorLimit 展示时保留的错误条数
const DisplayErrorLimit = 2

// SyncError 单条失败明细
type SyncError struct {
	Entity  string `json:"entity,omitempty"` // gateway|device
	ID      string `json:"id,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e SyncError) String() string {
	switch {
	case e.Path != "":
		return e.Path + ": " + e.Message
	case e.ID != "":
		return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
	case e.Entity != "":
		return e.Entity + ": " + e.Message
	}
	return e.Message
}

// SyncOutcome 推送结果；Errors 始终保留完整列表
type SyncOutcome struct {
	Kind        OutcomeKind           `json:"kind"`
	SyncRunID   string                `json:"sync_run_id,omitempty"`
	Summary     string                `json:"summary,omitempty"`
	Synced      int                   `json:"synced"`
	Failed      int                   `json:"failed"`
	Errors      []SyncError           `json:"errors,omitempty"`
	Code        envelope.Code         `json:"error_code,omitempty"`
	Hint        string                `json:"hint,omitempty"`
	RequestID   string                `json:"request_id,omitempty"`
	Diagnostics *envelope.Diagnostics `json:"diagnostics,omitempty"`
}

// DisplayErrors 前 DisplayErrorLimit 条，超出部分以 "… and N more" 提示，不静默丢弃
func (o SyncOutcome) DisplayErrors() []string {
	n := len(o.Errors)
	limit := min(n, DisplayErrorLimit)
	out := make([]string, 0, limit+1)
	for _, e := range o.Errors[:limit] {
		out = append(out, e.String())
	}
	if n > limit {
		out = append(out, fmt.Sprintf("… and %d more", n-limit))
	}
	return out
}

// ClassifyPush 将归一化的推送响应分类为 success / partial / failed
func ClassifyPush(runID string, resp *platform.PushResponse) SyncOutcome {
	out := SyncOutcome{
		SyncRunID: runID,
		Summary:   resp.Summary,
		Synced:    resp.Aggregate.Synced,
		Failed:    resp.Aggregate.Failed,
		RequestID: resp.RequestID,
	}
	if resp.HasEntityDetail() {
		out.Errors = append(out.Errors, entityErrors("gateway", resp.Gateways)...)
		out.Errors = append(out.Errors, entityErrors("device", resp.Devices)...)
	} else if out.Failed > 0 {
		out.Errors = padErrors("", nil, out.Failed)
	}

	switch {
	case out.Failed == 0 && resp.OK:
		out.Kind = OutcomeSuccess
	case out.Failed == 0:
		// 远端整体失败且无逐实体明细
		out.Kind = OutcomeFailed
		msg := resp.Error
		if msg == "" {
			msg = "the platform rejected the sync without per-entity detail"
		}
		out.Errors = []SyncError{{Message: msg}}
	case out.Synced > 0:
		out.Kind = OutcomePartial
	default:
		out.Kind = OutcomeFailed
	}

	switch out.Kind {
	case OutcomePartial:
		out.Code = envelope.CodePartialFailure
		out.Hint = envelope.HintForCode(envelope.CodePartialFailure)
	case OutcomeFailed:
		out.Code = envelope.CodeUpstreamError
		if !resp.HasEntityDetail() && out.Failed == 0 {
			out.Code = envelope.CodeUpstreamNoDetail
		}
		out.Hint = envelope.HintForCode(out.Code)
	}
	if out.Summary == "" {
		out.Summary = fmt.Sprintf("%d synced, %d failed", out.Synced, out.Failed)
	}
	return out
}

// FailedOutcome 网络/解析异常或校验失败转换为 failed，保留原始消息
func FailedOutcome(runID string, err error) SyncOutcome {
	out := SyncOutcome{Kind: OutcomeFailed, SyncRunID: runID}
	if e, ok := envelope.As(err); ok {
		out.Code = e.Code
		out.Hint = e.Hint
		out.Diagnostics = e.Diagnostics
		if e.Diagnostics != nil {
			out.RequestID = e.Diagnostics.RequestID
		}
		out.Errors = []SyncError{{Message: e.Message}}
	} else if err != nil {
		out.Code = envelope.CodeNetworkError
		out.Hint = envelope.HintForCode(envelope.CodeNetworkError)
		out.Errors = []SyncError{{Message: err.Error()}}
	}
	return out
}

// entityErrors 明细条数少于失败数时补齐占位条目，保证逐实体可追溯
func entityErrors(entity string, r *platform.EntityResult) []SyncError {
	if r == nil {
		return nil
	}
	errs := make([]SyncError, 0, max(r.Failed, len(r.Errors)))
	for _, e := range r.Errors {
		errs = append(errs, SyncError{Entity: entity, ID: e.ID, Message: e.Message})
	}
	return padErrors(entity, errs, r.Failed)
}

func padErrors(entity string, errs []SyncError, failed int) []SyncError {
	for missing := failed - len(errs); missing > 0; missing-- {
		errs = append(errs, SyncError{Entity: entity, Message: "failed without detail from the platform"})
	}
	return errs
}

// ValidationOutcome 校验失败：未发起网络请求，也未生成 sync_run_id
func ValidationOutcome(fieldErrs []platform.FieldError) SyncOutcome {
	out := SyncOutcome{
		Kind:   OutcomeFailed,
		Failed: len(fieldErrs),
		Code:   envelope.CodeValidationFailed,
		Hint:   envelope.HintForCode(envelope.CodeValidationFailed),
	}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, SyncError{Path: fe.Path, Message: fe.Message})
	}
	return out
}
