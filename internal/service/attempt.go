package service

import (
	"sync/atomic"

	"github.com/pickupdrop/checkout/internal/constants"
)

// AttemptState 单次结算尝试状态：idle → submitting → redirecting
type AttemptState struct {
	state atomic.Int32
}

// TryBegin 从 idle 原子切换到 submitting，失败说明已有提交在进行
func (s *AttemptState) TryBegin() bool {
	return s.state.CompareAndSwap(constants.AttemptStateIdle, constants.AttemptStateSubmitting)
}

// MarkRedirecting 进入网关跳转，此后不再释放
func (s *AttemptState) MarkRedirecting() bool {
	return s.state.CompareAndSwap(constants.AttemptStateSubmitting, constants.AttemptStateRedirecting)
}

// AbortRedirect 跳转失败时退回 submitting，由提交方统一释放
func (s *AttemptState) AbortRedirect() {
	s.state.CompareAndSwap(constants.AttemptStateRedirecting, constants.AttemptStateSubmitting)
}

// Release 未发生跳转时回到 idle
func (s *AttemptState) Release() {
	s.state.CompareAndSwap(constants.AttemptStateSubmitting, constants.AttemptStateIdle)
}

// Reset 页面重新进入（回跳、放弃）时结束已跳转的尝试。
// 提交中的尝试不受影响，返回 false。
func (s *AttemptState) Reset() bool {
	if s.state.CompareAndSwap(constants.AttemptStateRedirecting, constants.AttemptStateIdle) {
		return true
	}
	return s.state.Load() == constants.AttemptStateIdle
}

// Load 当前状态
func (s *AttemptState) Load() int32 {
	return s.state.Load()
}
