package telemetry

import (
	"context"
	"time"
)

// Scope 是绑定到一次调用的遥测发射器。
// 经由 Scope 发出的每条记录都会被打上同一个 operation_Id，
// 这是后端把多条记录归并为同一事务的唯一依据。
type Scope struct {
	client      Client
	operationID string
	parentID    string
	traceParent string
	props       map[string]string
	now         func() time.Time
}

// NewScope 创建绑定到 operationID 的 Scope。
func NewScope(client Client, operationID string) *Scope {
	if client == nil {
		client = Nop{}
	}
	return &Scope{
		client:      client,
		operationID: operationID,
		parentID:    operationID,
		now:         time.Now,
	}
}

// WithTraceParent 返回把记录挂到指定 W3C 链路上的副本，空值表示沿用由关联 ID 推导的链路。
func (s *Scope) WithTraceParent(traceParent string) *Scope {
	cp := *s
	cp.traceParent = traceParent
	return &cp
}

// WithProperties 返回附带默认属性的副本，默认属性会补充到每条记录中
// （记录自身已设置的同名属性优先）。
func (s *Scope) WithProperties(props map[string]string) *Scope {
	cp := *s
	cp.props = make(map[string]string, len(s.props)+len(props))
	for k, v := range s.props {
		cp.props[k] = v
	}
	for k, v := range props {
		cp.props[k] = v
	}
	return &cp
}

// OperationID 返回 Scope 绑定的关联 ID。
func (s *Scope) OperationID() string {
	return s.operationID
}

// Track 为记录补全关联字段后交给客户端。
// OperationID 总是被覆盖为 Scope 的关联 ID，调用方无法破坏关联不变量。
func (s *Scope) Track(r Record) {
	b := r.Common()
	b.OperationID = s.operationID
	if b.ParentID == "" {
		b.ParentID = s.parentID
	}
	if b.TraceParent == "" {
		b.TraceParent = s.traceParent
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = s.now()
	}
	for k, v := range s.props {
		if _, ok := b.Properties[k]; !ok {
			b.SetProperty(k, v)
		}
	}
	b.SetProperty(PropOperationID, s.operationID)
	s.client.Track(r)
}

// TrackEvent 发送自定义事件。
func (s *Scope) TrackEvent(name string, props map[string]string) {
	s.Track(&Event{Base: Base{Properties: copyProps(props)}, Name: name})
}

// TrackMetric 发送数值指标。
func (s *Scope) TrackMetric(name string, value float64, props map[string]string) {
	s.Track(&Metric{Base: Base{Properties: copyProps(props)}, Name: name, Value: value})
}

// TrackTrace 发送追踪消息。
func (s *Scope) TrackTrace(message string, severity Severity, props map[string]string) {
	s.Track(&Trace{Base: Base{Properties: copyProps(props)}, Message: message, Severity: severity})
}

// TrackDependency 发送依赖调用记录。
func (s *Scope) TrackDependency(d *Dependency) {
	s.Track(d)
}

// TrackRequest 发送请求记录。
func (s *Scope) TrackRequest(r *Request) {
	s.Track(r)
}

// TrackException 发送异常记录。
func (s *Scope) TrackException(err error, props map[string]string) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	s.Track(&Exception{
		Base:     Base{Properties: copyProps(props)},
		Err:      err,
		Message:  msg,
		Severity: SeverityError,
	})
}

// Flush 刷新底层客户端。
func (s *Scope) Flush(ctx context.Context) error {
	return s.client.Flush(ctx)
}

func copyProps(props map[string]string) map[string]string {
	if len(props) == 0 {
		return nil
	}
	cp := make(map[string]string, len(props))
	for k, v := range props {
		cp[k] = v
	}
	return cp
}
