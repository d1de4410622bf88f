// Package bus publishes installer objects to front-ends.
//
// Objects are identified by a path and expose interfaces made of typed
// properties, methods and signals. All property access and method
// dispatch is marshalled onto the control loop.
package bus

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/loop"
	"github.com/osbuild/installer-core/internal/prometheus"
	"github.com/osbuild/installer-core/internal/structure"
)

// Event is a signal emitted by a published object. Property changes are
// PropertiesChanged events carrying the new values in Changed.
type Event struct {
	Path        string                       `json:"path"`
	Interface   string                       `json:"interface"`
	Signal      string                       `json:"signal"`
	Args        []structure.Variant          `json:"args,omitempty"`
	Changed     map[string]structure.Variant `json:"changed,omitempty"`
	Invalidated []string                     `json:"invalidated,omitempty"`
}

type object struct {
	path   string
	ifaces []*Interface
	handle *Handle
}

func (o *object) iface(name string) (*Interface, bool) {
	for _, i := range o.ifaces {
		if i.Name == name {
			return i, true
		}
	}
	return nil, false
}

type pendingKey struct {
	path  string
	iface string
}

type Registry struct {
	loop *loop.Loop

	mu          sync.Mutex
	objects     map[string]*object
	pending     []pendingKey
	pendingSet  map[pendingKey][]string
	subscribers map[int]*Subscription
	nextSub     int
	nextTask    int
}

// NewRegistry creates a registry dispatching on l. Coalesced property
// changes are flushed after every loop message.
func NewRegistry(l *loop.Loop) *Registry {
	r := &Registry{
		loop:        l,
		objects:     map[string]*object{},
		pendingSet:  map[pendingKey][]string{},
		subscribers: map[int]*Subscription{},
	}
	l.AfterEach(r.flush)
	return r
}

func (r *Registry) Loop() *loop.Loop {
	return r.loop
}

// Publish exposes ifaces at path. Publishing an existing path adds the
// interfaces it does not have yet and returns the existing handle.
func (r *Registry) Publish(path string, ifaces ...*Interface) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.objects[path]
	if !ok {
		obj = &object{path: path}
		obj.handle = &Handle{reg: r, path: path}
		r.objects[path] = obj
		logrus.WithField("path", path).Debug("object published")
	}
	for _, i := range ifaces {
		if _, exists := obj.iface(i.Name); !exists {
			obj.ifaces = append(obj.ifaces, i)
		}
	}
	return obj.handle
}

func (r *Registry) Unpublish(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, path)
	kept := r.pending[:0]
	for _, k := range r.pending {
		if k.path == path {
			delete(r.pendingSet, k)
			continue
		}
		kept = append(kept, k)
	}
	r.pending = kept
}

// NextTaskPath returns a fresh object path for a task owned by owner.
func (r *Registry) NextTaskPath(owner string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTask++
	return taskPath(owner, r.nextTask)
}

// Objects returns the published paths in lexical order.
func (r *Registry) Objects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.objects))
	for p := range r.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (r *Registry) lookup(path, iface string) (*object, *Interface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[path]
	if !ok {
		return nil, nil, installerrors.InvalidRequest("no object at %s", path)
	}
	i, ok := obj.iface(iface)
	if !ok {
		return nil, nil, installerrors.InvalidRequest("object %s has no interface %s", path, iface)
	}
	return obj, i, nil
}

// Call dispatches a method call on the control loop.
func (r *Registry) Call(ctx context.Context, path, iface, method string, args []structure.Variant) ([]structure.Variant, error) {
	_, i, err := r.lookup(path, iface)
	if err != nil {
		return nil, err
	}
	m, ok := i.method(method)
	if !ok {
		return nil, installerrors.InvalidRequest("interface %s has no method %s", iface, method)
	}
	if len(args) != len(m.In) {
		return nil, installerrors.InvalidRequest("%s.%s takes %d arguments, got %d", iface, method, len(m.In), len(args))
	}
	for n, a := range m.In {
		if args[n].Signature != a.Signature {
			return nil, installerrors.InvalidRequest("argument %s of %s.%s has type %q, expected %q", a.Name, iface, method, args[n].Signature, a.Signature)
		}
	}

	var out []structure.Variant
	err = r.loop.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.Call(ctx, args)
		return err
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"path": path, "method": iface + "." + method}).Debugf("method failed: %v", err)
		return nil, err
	}
	return out, nil
}

// Get reads a property on the control loop.
func (r *Registry) Get(ctx context.Context, path, iface, name string) (structure.Variant, error) {
	_, i, err := r.lookup(path, iface)
	if err != nil {
		return structure.Variant{}, err
	}
	p, ok := i.property(name)
	if !ok {
		return structure.Variant{}, installerrors.InvalidRequest("interface %s has no property %s", iface, name)
	}
	var v structure.Variant
	err = r.loop.Call(ctx, func(context.Context) error {
		var err error
		v, err = p.Get()
		return err
	})
	return v, err
}

// Set writes a property on the control loop. When the value read back
// differs from the one before, a PropertiesChanged event is queued.
func (r *Registry) Set(ctx context.Context, path, iface, name string, value structure.Variant) error {
	obj, i, err := r.lookup(path, iface)
	if err != nil {
		return err
	}
	p, ok := i.property(name)
	if !ok {
		return installerrors.InvalidRequest("interface %s has no property %s", iface, name)
	}
	if p.Set == nil {
		return installerrors.InvalidRequest("property %s.%s is read-only", iface, name)
	}
	if value.Signature != p.Signature {
		return installerrors.InvalidRequest("property %s.%s has type %q, got %q", iface, name, p.Signature, value.Signature)
	}

	return r.loop.Call(ctx, func(ctx context.Context) error {
		before, _ := p.Get()
		if err := p.Set(ctx, value); err != nil {
			return err
		}
		after, err := p.Get()
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(before, after) {
			obj.handle.PropertyChanged(iface, name)
		}
		return nil
	})
}

// GetAll reads every property of an interface.
func (r *Registry) GetAll(ctx context.Context, path, iface string) (map[string]structure.Variant, error) {
	_, i, err := r.lookup(path, iface)
	if err != nil {
		return nil, err
	}
	out := map[string]structure.Variant{}
	err = r.loop.Call(ctx, func(context.Context) error {
		for _, p := range i.Properties {
			v, err := p.Get()
			if err != nil {
				return err
			}
			out[p.Name] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type PropertyInfo struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Access    string `json:"access"`
}

type MethodInfo struct {
	Name string `json:"name"`
	In   []Arg  `json:"in"`
	Out  []Arg  `json:"out"`
}

type InterfaceInfo struct {
	Name       string         `json:"name"`
	Properties []PropertyInfo `json:"properties"`
	Methods    []MethodInfo   `json:"methods"`
	Signals    []SignalSpec   `json:"signals"`
}

type ObjectInfo struct {
	Path       string          `json:"path"`
	Interfaces []InterfaceInfo `json:"interfaces"`
}

// Introspect describes the interfaces of the object at path.
func (r *Registry) Introspect(path string) (ObjectInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[path]
	if !ok {
		return ObjectInfo{}, installerrors.InvalidRequest("no object at %s", path)
	}

	info := ObjectInfo{Path: path}
	for _, i := range obj.ifaces {
		ii := InterfaceInfo{
			Name:       i.Name,
			Properties: []PropertyInfo{},
			Methods:    []MethodInfo{},
			Signals:    []SignalSpec{},
		}
		for _, p := range i.Properties {
			access := "read"
			if p.Set != nil {
				access = "readwrite"
			}
			ii.Properties = append(ii.Properties, PropertyInfo{Name: p.Name, Signature: p.Signature, Access: access})
		}
		for _, m := range i.Methods {
			in, out := m.In, m.Out
			if in == nil {
				in = []Arg{}
			}
			if out == nil {
				out = []Arg{}
			}
			ii.Methods = append(ii.Methods, MethodInfo{Name: m.Name, In: in, Out: out})
		}
		ii.Signals = append(ii.Signals, i.Signals...)
		info.Interfaces = append(info.Interfaces, ii)
	}
	return info, nil
}

func (r *Registry) markChanged(path, iface, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[path]; !ok {
		return
	}
	key := pendingKey{path: path, iface: iface}
	names, ok := r.pendingSet[key]
	if !ok {
		r.pending = append(r.pending, key)
	}
	for _, n := range names {
		if n == name {
			return
		}
	}
	r.pendingSet[key] = append(names, name)
}

// flush turns the queued property changes into one PropertiesChanged event
// per object interface. It runs on the control loop.
func (r *Registry) flush() {
	r.mu.Lock()
	pending := r.pending
	sets := r.pendingSet
	r.pending = nil
	r.pendingSet = map[pendingKey][]string{}
	r.mu.Unlock()

	for _, key := range pending {
		_, i, err := r.lookup(key.path, key.iface)
		if err != nil {
			continue
		}
		ev := Event{
			Path:      key.path,
			Interface: key.iface,
			Signal:    PropertiesChanged,
			Changed:   map[string]structure.Variant{},
		}
		for _, name := range sets[key] {
			p, ok := i.property(name)
			if !ok {
				continue
			}
			v, err := p.Get()
			if err != nil {
				ev.Invalidated = append(ev.Invalidated, name)
				continue
			}
			ev.Changed[name] = v
		}
		r.deliver(ev)
	}
}

func (r *Registry) deliver(ev Event) {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
}

// Subscribe returns a subscription receiving every event emitted from now
// on, in emission order.
func (r *Registry) Subscribe() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	s := &Subscription{
		reg:    r,
		id:     r.nextSub,
		notify: make(chan struct{}, 1),
	}
	r.subscribers[s.id] = s
	prometheus.SignalSubscribers.Inc()
	return s
}

// Handle is returned by Publish and lets the object owner announce changes.
type Handle struct {
	reg  *Registry
	path string
}

func (h *Handle) Path() string {
	return h.path
}

// PropertyChanged queues a change notification. Changes are coalesced
// until the end of the current loop message.
func (h *Handle) PropertyChanged(iface, name string) {
	h.reg.markChanged(h.path, iface, name)
}

// EmitSignal delivers a signal after any property changes queued so far.
func (h *Handle) EmitSignal(iface, name string, args ...structure.Variant) {
	h.reg.flush()
	h.reg.deliver(Event{Path: h.path, Interface: iface, Signal: name, Args: args})
}

// Flush delivers queued property changes right away.
func (h *Handle) Flush() {
	h.reg.flush()
}

// Subscription is an ordered, unbounded queue of events.
type Subscription struct {
	reg    *Registry
	id     int
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	closed bool
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued event, waiting for one if needed.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, installerrors.State("subscription closed")
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (s *Subscription) Close() {
	s.reg.mu.Lock()
	if _, ok := s.reg.subscribers[s.id]; ok {
		delete(s.reg.subscribers, s.id)
		prometheus.SignalSubscribers.Dec()
	}
	s.reg.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
