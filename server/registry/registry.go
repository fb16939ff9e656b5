package registry

import (
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/luno/clustermap/server/parse"
)

// Registry maps services by (name, id) and by administrative id. Id
// assignment scans and inserts under the same lock, so concurrent
// registrations of one name can never produce the same id.
type Registry struct {
	mu      sync.RWMutex
	byKey   map[parse.ServiceKey]Service
	byAdmin map[string]parse.ServiceKey
	byName  map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		byKey:   make(map[parse.ServiceKey]Service),
		byAdmin: make(map[string]parse.ServiceKey),
		byName:  make(map[string]map[string]struct{}),
	}
}

// Register stores svc, assigning an id first if it has none, and returns
// the stored value. Registering a known key replaces the stored service.
func (r *Registry) Register(svc Service) Service {
	r.mu.Lock()
	defer r.mu.Unlock()

	if svc.ID == "" {
		svc.ID = r.nextID(svc)
	}
	r.put(svc)
	return svc
}

// Exchange replaces the service registered under old with svc, for example
// when a clone is promoted to a master/slave set and its admin id changes.
func (r *Registry) Exchange(old parse.ServiceKey, svc Service) Service {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(old)
	if svc.ID == "" {
		svc.ID = r.nextID(svc)
	}
	r.put(svc)
	return svc
}

func (r *Registry) Remove(k parse.ServiceKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(k)
}

func (r *Registry) ByKey(k parse.ServiceKey) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byKey[k]
	return s, ok
}

func (r *Registry) ByAdminID(id string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byAdmin[id]
	if !ok {
		return Service{}, false
	}
	return r.byKey[k], true
}

// Siblings returns every service registered under name, ordered by id.
func (r *Registry) Siblings(name string) []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]Service, 0, len(r.byName[name]))
	for id := range r.byName[name] {
		ret = append(ret, r.byKey[parse.ServiceKey{Name: name, ID: id}])
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})
	return ret
}

// All returns every registered service ordered by key.
func (r *Registry) All() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]Service, 0, len(r.byKey))
	for _, s := range r.byKey {
		ret = append(ret, s)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Key().String() < ret[j].Key().String()
	})
	return ret
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

func (r *Registry) put(svc Service) {
	k := svc.Key()
	if prev, ok := r.byKey[k]; ok {
		delete(r.byAdmin, prev.AdminID())
	}
	r.byKey[k] = svc
	r.byAdmin[svc.AdminID()] = k
	ids, ok := r.byName[svc.Name]
	if !ok {
		ids = make(map[string]struct{})
		r.byName[svc.Name] = ids
	}
	ids[svc.ID] = struct{}{}
}

func (r *Registry) remove(k parse.ServiceKey) {
	prev, ok := r.byKey[k]
	if !ok {
		return
	}
	delete(r.byKey, k)
	delete(r.byAdmin, prev.AdminID())
	delete(r.byName[k.Name], k.ID)
	if len(r.byName[k.Name]) == 0 {
		delete(r.byName, k.Name)
	}
}

// nextID picks the id for a new service. Siblings with the same name are
// scanned for the highest numeric suffix; the new id is one more. A service
// inside a container is numbered within "<container>_<n>", with the first
// member getting the bare container key. Callers must hold mu.
func (r *Registry) nextID(svc Service) string {
	prefix := svc.Prefix() + svc.Name + "_"
	ck := svc.containerKey()

	pattern := "^" + regexp.QuoteMeta(prefix) + `(\d+)$`
	if ck != "" {
		pattern = "^" + regexp.QuoteMeta(prefix) + "(?:" + regexp.QuoteMeta(ck+"_") + `)?(\d+)$`
	}
	re := regexp.MustCompile(pattern)

	var highest int
	for id := range r.byName[svc.Name] {
		sib := r.byKey[parse.ServiceKey{Name: svc.Name, ID: id}]
		admin := sib.AdminID()
		if ck != "" && admin == prefix+ck {
			highest = max(highest, 1)
			continue
		}
		m := re.FindStringSubmatch(admin)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}

	for n := highest + 1; ; n++ {
		id := strconv.Itoa(n)
		if ck != "" {
			if n == 1 {
				id = ck
			} else {
				id = ck + "_" + id
			}
		}
		if _, taken := r.byName[svc.Name][id]; !taken {
			return id
		}
	}
}
