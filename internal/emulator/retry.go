package emulator

import "github.com/google/uuid"

// Phase 推送重试状态
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAttempting Phase = "attempting"
	PhaseFailed     Phase = "failed"
	PhaseSucceeded  Phase = "succeeded"
)

// RetryState 可序列化的重试状态
type RetryState struct {
	Phase     Phase  `json:"phase"`
	SyncRunID string `json:"sync_run_id,omitempty"`
}

// RetryTracker sync_run_id 生命周期状态机：
//
//	Idle/Succeeded --Begin--> Attempting(new id)
//	Failed/Attempting --Begin--> Attempting(same id)
//	Attempting(id) --Fail(id)--> Failed(id)
//	Attempting(id) --Succeed(id)--> Succeeded
//	any --Invalidate--> Idle
//
// 非并发安全，由 Controller 的锁保护。
type RetryTracker struct {
	state RetryState
	newID func() string
}

// NewRetryTracker newID 为空时使用 UUID
func NewRetryTracker(newID func() string) *RetryTracker {
	if newID == nil {
		newID = uuid.NewString
	}
	return &RetryTracker{state: RetryState{Phase: PhaseIdle}, newID: newID}
}

// Begin 开始一次尝试，返回本次使用的 sync_run_id
func (t *RetryTracker) Begin() string {
	switch t.state.Phase {
	case PhaseFailed, PhaseAttempting:
		if t.state.SyncRunID != "" {
			t.state.Phase = PhaseAttempting
			return t.state.SyncRunID
		}
	}
	t.state = RetryState{Phase: PhaseAttempting, SyncRunID: t.newID()}
	return t.state.SyncRunID
}

// Fail 标记失败，保留 id 供重试复用；id 已失效时忽略
func (t *RetryTracker) Fail(id string) bool {
	if id == "" || id != t.state.SyncRunID {
		return false
	}
	t.state.Phase = PhaseFailed
	return true
}

// Succeed 标记成功，下次尝试将生成新 id
func (t *RetryTracker) Succeed(id string) bool {
	if id == "" || id != t.state.SyncRunID {
		return false
	}
	t.state.Phase = PhaseSucceeded
	return true
}

// Invalidate 本地配置变更后调用，强制下次生成新 id
func (t *RetryTracker) Invalidate() {
	t.state = RetryState{Phase: PhaseIdle}
}

// State 当前状态
func (t *RetryTracker) State() RetryState { return t.state }

// restore 从持久化快照恢复；进行中的尝试按失败处理，使重启后的重试仍可去重
func (t *RetryTracker) restore(s RetryState) {
	if s.Phase == PhaseAttempting {
		s.Phase = PhaseFailed
	}
	if s.Phase == "" {
		s.Phase = PhaseIdle
	}
	t.state = s
}
