package rabbitmq_listener

type registryEntry struct {
	svc     *ServiceDescriptor
	started bool
}

// Registry - сервисы, привязанные к слушателю, и их статус "запущен".
// Ключ - ServiceDescriptor.ID(). Сам по себе не синхронизирован.
type Registry struct {
	entries map[string]*registryEntry
	order   []string
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Add добавляет сервис. Возвращает false, если сервис с таким ID уже есть.
func (r *Registry) Add(svc *ServiceDescriptor) bool {
	id := svc.ID()
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.entries[id] = &registryEntry{svc: svc}
	r.order = append(r.order, id)
	return true
}

// Remove удаляет сервис сразу из "зарегистрированных" и "запущенных"
func (r *Registry) Remove(id string) {
	if _, ok := r.entries[id]; !ok {
		return
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Contains(id string) bool {
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) IsStarted(id string) bool {
	e, ok := r.entries[id]
	return ok && e.started
}

// MarkStarted помечает сервис запущенным. Возвращает false, если сервиса нет
// или он уже запущен.
func (r *Registry) MarkStarted(id string) bool {
	e, ok := r.entries[id]
	if !ok || e.started {
		return false
	}
	e.started = true
	return true
}

// unmarkStarted откатывает MarkStarted, если подписка не удалась
func (r *Registry) unmarkStarted(id string) {
	if e, ok := r.entries[id]; ok {
		e.started = false
	}
}

// Get возвращает дескриптор сервиса
func (r *Registry) Get(id string) (*ServiceDescriptor, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.svc, true
}

// Pending - зарегистрированные, но еще не запущенные сервисы в порядке регистрации
func (r *Registry) Pending() []*ServiceDescriptor {
	var pending []*ServiceDescriptor
	for _, id := range r.order {
		if e := r.entries[id]; !e.started {
			pending = append(pending, e.svc)
		}
	}
	return pending
}

// Services - все сервисы в порядке регистрации
func (r *Registry) Services() []*ServiceDescriptor {
	services := make([]*ServiceDescriptor, 0, len(r.order))
	for _, id := range r.order {
		services = append(services, r.entries[id].svc)
	}
	return services
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// StartedCount - количество запущенных сервисов
func (r *Registry) StartedCount() int {
	n := 0
	for _, e := range r.entries {
		if e.started {
			n++
		}
	}
	return n
}
