package stream

import (
	"context"
	"sync"

	"k8s.io/klog/v2"
)

// Run 一次活跃运行的句柄：事件桥 + 取消句柄 + 结束信号
type Run struct {
	Bridge *Bridge
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel 协作式取消：置桥上的取消标志并撤销运行上下文
func (r *Run) Cancel() {
	r.Bridge.Cancel()
	r.cancel()
}

// Done 运行协程退出后关闭
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Close 标记运行已结束，幂等
func (r *Run) Close() {
	r.once.Do(func() { close(r.done) })
}

// Registry 按会话维度管理活跃运行，同一键至多一个活跃运行。
// 生命周期归传输层协作方所有，注入核心使用。
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Begin 为指定键开启新运行。若该键已有活跃运行，
// 先取消并等待其完全退场，再安装新运行，避免事件串台。
// 检查与安装在同一临界区完成，并发 Begin 也只留一个活跃运行。
func (r *Registry) Begin(parent context.Context, key string) (*Run, context.Context) {
	for {
		r.mu.Lock()
		prior := r.runs[key]
		if prior == nil {
			ctx, cancel := context.WithCancel(parent)
			run := &Run{
				Bridge: NewBridge(),
				cancel: cancel,
				done:   make(chan struct{}),
			}
			r.runs[key] = run
			r.mu.Unlock()
			return run, ctx
		}
		r.mu.Unlock()

		klog.V(6).Infof("[Registry] 取消同键旧运行: key=%s", key)
		prior.Cancel()
		<-prior.Done()
	}
}

// Cancel 取消指定键的活跃运行，返回是否确有运行被取消
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	run := r.runs[key]
	r.mu.Unlock()
	if run == nil {
		return false
	}
	run.Cancel()
	return true
}

// Finish 运行退场：关闭结束信号，并在其仍为当前运行时从表中摘除
func (r *Registry) Finish(key string, run *Run) {
	r.mu.Lock()
	if r.runs[key] == run {
		delete(r.runs, key)
	}
	r.mu.Unlock()
	run.Close()
}

// Active 指定键是否有活跃运行
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[key]
	return ok
}
