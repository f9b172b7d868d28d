package registry

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/GoCodeAlone/modhost/filter"
	"github.com/GoCodeAlone/modhost/internal/logging"
)

// Registry holds registered services and their listeners.
type Registry struct {
	mu        sync.RWMutex
	nextID    int64
	services  map[int64]*Reference
	byIface   map[string][]*Reference
	usage     map[int64]map[int64]int // service id -> consumer -> count
	listeners []*listener
	nextLis   int64
	logger    logging.Logger
}

type listener struct {
	id     int64
	iface  string
	filter *filter.Filter
	fn     Listener
}

func (l *listener) matches(ref *Reference, props map[string]any) bool {
	if l.iface != "" && !slices.Contains(ref.interfaces, l.iface) {
		return false
	}
	return l.filter.Match(props)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		services: make(map[int64]*Reference),
		byIface:  make(map[string][]*Reference),
		usage:    make(map[int64]map[int64]int),
		logger:   logging.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registration is the handle returned to the registering party.
type Registration struct {
	registry *Registry
	ref      *Reference
	once     sync.Once
}

// Reference returns the reference of the registered service.
func (g *Registration) Reference() *Reference { return g.ref }

// Unregister removes the service. Listeners see Unregistering before the
// service disappears from lookups. Calling it twice is a no-op.
func (g *Registration) Unregister() {
	g.once.Do(func() { g.registry.unregister(g.ref) })
}

// SetProperties replaces the service properties. The registry-managed
// properties are kept.
func (g *Registration) SetProperties(props map[string]any) error {
	return g.registry.setProperties(g.ref, props)
}

// Register adds a service owned by module owner.
func (r *Registry) Register(owner int64, interfaces []string, service any, props map[string]any) (*Registration, error) {
	if service == nil {
		return nil, ErrNilService
	}
	if len(interfaces) == 0 {
		return nil, ErrNoInterfaces
	}
	if err := checkReserved(props); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.nextID++
	ref := &Reference{
		id:         r.nextID,
		owner:      owner,
		interfaces: slices.Clone(interfaces),
		service:    service,
	}
	r.applyPropsLocked(ref, props)
	r.services[ref.id] = ref
	for _, iface := range ref.interfaces {
		r.byIface[iface] = append(r.byIface[iface], ref)
	}
	event := r.eventLocked(ref)
	r.mu.Unlock()

	r.logger.Debug("Service registered", "service", ref.id, "interfaces", ref.interfaces, "owner", owner)
	r.deliver(ServiceEvent{Type: Registered, Reference: ref}, event, nil)
	return &Registration{registry: r, ref: ref}, nil
}

func checkReserved(props map[string]any) error {
	for _, k := range []string{PropID, PropObjectClass, PropOwner} {
		if _, ok := props[k]; ok {
			return fmt.Errorf("%w: %s", ErrReservedProperty, k)
		}
	}
	return nil
}

func (r *Registry) applyPropsLocked(ref *Reference, props map[string]any) {
	p := cloneProps(props)
	p[PropID] = ref.id
	p[PropOwner] = ref.owner
	p[PropObjectClass] = slices.Clone(ref.interfaces)
	ref.ranking = ranking(p[PropRanking])
	p[PropRanking] = ref.ranking
	ref.props = p
}

func ranking(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 0
}

// dispatch is a snapshot of the listeners and the properties they filter on.
type dispatch struct {
	listeners []*listener
	props     map[string]any
}

func (r *Registry) eventLocked(ref *Reference) dispatch {
	return dispatch{listeners: slices.Clone(r.listeners), props: cloneProps(ref.props)}
}

// deliver calls listeners outside the registry lock so they may use the
// registry. With old set, listeners matching only old get ModifiedEndMatch.
func (r *Registry) deliver(ev ServiceEvent, d dispatch, old map[string]any) {
	for _, l := range d.listeners {
		typ := ev.Type
		if !l.matches(ev.Reference, d.props) {
			if ev.Type != Modified || old == nil || !l.matches(ev.Reference, old) {
				continue
			}
			typ = ModifiedEndMatch
		}
		r.call(l, ServiceEvent{Type: typ, Reference: ev.Reference})
	}
}

func (r *Registry) call(l *listener, ev ServiceEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Service listener panicked", "listener", l.id, "event", ev.Type, "panic", p)
		}
	}()
	l.fn(ev)
}

func (r *Registry) setProperties(ref *Reference, props map[string]any) error {
	if err := checkReserved(props); err != nil {
		return err
	}
	r.mu.Lock()
	if ref.unregistered {
		r.mu.Unlock()
		return ErrUnregistered
	}
	old := cloneProps(ref.props)
	r.applyPropsLocked(ref, props)
	event := r.eventLocked(ref)
	r.mu.Unlock()

	r.deliver(ServiceEvent{Type: Modified, Reference: ref}, event, old)
	return nil
}

func (r *Registry) unregister(ref *Reference) {
	r.mu.RLock()
	if ref.unregistered {
		r.mu.RUnlock()
		return
	}
	event := r.eventLocked(ref)
	r.mu.RUnlock()

	r.deliver(ServiceEvent{Type: Unregistering, Reference: ref}, event, nil)

	r.mu.Lock()
	ref.unregistered = true
	delete(r.services, ref.id)
	delete(r.usage, ref.id)
	for _, iface := range ref.interfaces {
		r.byIface[iface] = slices.DeleteFunc(r.byIface[iface], func(x *Reference) bool { return x == ref })
		if len(r.byIface[iface]) == 0 {
			delete(r.byIface, iface)
		}
	}
	r.mu.Unlock()
	r.logger.Debug("Service unregistered", "service", ref.id)
}

// UnregisterAll removes every service owned by owner.
func (r *Registry) UnregisterAll(owner int64) {
	r.mu.RLock()
	var owned []*Reference
	for _, ref := range r.services {
		if ref.owner == owner {
			owned = append(owned, ref)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(owned, func(a, b *Reference) int { return int(a.id - b.id) })
	for _, ref := range owned {
		r.unregister(ref)
	}
}

// References returns the services registered under iface that match f,
// best first. An empty iface selects every service.
func (r *Registry) References(iface string, f *filter.Filter) []*Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var candidates []*Reference
	if iface == "" {
		for _, ref := range r.services {
			candidates = append(candidates, ref)
		}
	} else {
		candidates = r.byIface[iface]
	}
	var out []*Reference
	for _, ref := range candidates {
		if f.Match(ref.props) {
			out = append(out, ref)
		}
	}
	slices.SortFunc(out, less)
	return out
}

// Best returns the highest ranked matching service.
func (r *Registry) Best(iface string, f *filter.Filter) (*Reference, error) {
	refs := r.References(iface, f)
	if len(refs) == 0 {
		if f != nil {
			return nil, fmt.Errorf("%w: %s matching %s", ErrServiceNotFound, iface, f)
		}
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, iface)
	}
	return refs[0], nil
}

// Properties returns a copy of the service properties.
func (r *Registry) Properties(ref *Reference) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneProps(ref.props)
}

// Property returns one service property.
func (r *Registry) Property(ref *Reference, key string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ref.props[key]
}

// Ranking returns the service.ranking of ref.
func (r *Registry) Ranking(ref *Reference) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ref.ranking
}

// GetService returns the service object and records its use by consumer.
func (r *Registry) GetService(consumer int64, ref *Reference) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref.unregistered {
		return nil, fmt.Errorf("%w: %s", ErrUnregistered, ref)
	}
	users, ok := r.usage[ref.id]
	if !ok {
		users = make(map[int64]int)
		r.usage[ref.id] = users
	}
	users[consumer]++
	return ref.service, nil
}

// UngetService releases one use of ref by consumer. It returns false when
// consumer was not using the service.
func (r *Registry) UngetService(consumer int64, ref *Reference) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := r.usage[ref.id]
	if users[consumer] == 0 {
		return false
	}
	users[consumer]--
	if users[consumer] == 0 {
		delete(users, consumer)
	}
	return true
}

// ReleaseAll drops every service use recorded for consumer.
func (r *Registry) ReleaseAll(consumer int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, users := range r.usage {
		delete(users, consumer)
	}
}

// UsingModules returns the consumers of ref in ascending order.
func (r *Registry) UsingModules(ref *Reference) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int64
	for c := range r.usage[ref.id] {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// ServicesInUse returns the services consumer currently uses.
func (r *Registry) ServicesInUse(consumer int64) []*Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Reference
	for id, users := range r.usage {
		if users[consumer] > 0 {
			if ref, ok := r.services[id]; ok {
				out = append(out, ref)
			}
		}
	}
	slices.SortFunc(out, less)
	return out
}

// RegisteredBy returns the services owned by owner.
func (r *Registry) RegisteredBy(owner int64) []*Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Reference
	for _, ref := range r.services {
		if ref.owner == owner {
			out = append(out, ref)
		}
	}
	slices.SortFunc(out, less)
	return out
}

// AddListener subscribes fn to events of services registered under iface
// (any interface when empty) whose properties match f. Events are delivered
// synchronously by the goroutine that caused them. The returned function
// removes the listener.
func (r *Registry) AddListener(iface string, f *filter.Filter, fn Listener) (remove func()) {
	r.mu.Lock()
	r.nextLis++
	l := &listener{id: r.nextLis, iface: iface, filter: f, fn: fn}
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.listeners = slices.DeleteFunc(r.listeners, func(x *listener) bool { return x == l })
	}
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func formatList(s []string) string { return "[" + strings.Join(s, ", ") + "]" }
