// Package memory provides in-process implementations of pkg/store's
// interfaces, used by unit tests across skillforge and as a zero-dependency
// development mode. The Postgres-backed implementation in
// pkg/store/postgres is the one wired into production deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/store"
)

// Bundle groups one in-memory store per entity, mirroring how a Postgres
// deployment hands the same *pgxpool.Pool to four separate repository
// types rather than one struct implementing every interface (Go allows
// only one method of a given name per receiver, and Create/Get collide
// across UserStore/ThreadStore/SkillStore).
type Bundle struct {
	Users    *UserStore
	Threads  *ThreadStore
	Skills   *SkillStore
	Versions *ImageVersionStore
}

// NewBundle creates an empty set of in-memory stores.
func NewBundle() *Bundle {
	return &Bundle{
		Users:    NewUserStore(),
		Threads:  NewThreadStore(),
		Skills:   NewSkillStore(),
		Versions: NewImageVersionStore(),
	}
}

func cloneUser(u *models.User) *models.User   { c := *u; return &c }
func cloneThread(t *models.Thread) *models.Thread { c := *t; return &c }
func cloneSkill(s *models.Skill) *models.Skill { c := *s; return &c }

// --- UserStore ---

// UserStore is an in-memory store.UserStore.
type UserStore struct {
	mu     sync.Mutex
	users  map[string]*models.User
	byName map[string]string
}

var _ store.UserStore = (*UserStore)(nil)

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*models.User), byName: make(map[string]string)}
}

func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[u.Username]; ok {
		return store.ErrDuplicate
	}
	s.users[u.UserID] = cloneUser(u)
	s.byName[u.Username] = u.UserID
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

// --- ThreadStore ---

// ThreadStore is an in-memory store.ThreadStore.
type ThreadStore struct {
	mu      sync.Mutex
	threads map[string]*models.Thread
}

var _ store.ThreadStore = (*ThreadStore)(nil)

func NewThreadStore() *ThreadStore {
	return &ThreadStore{threads: make(map[string]*models.Thread)}
}

func (s *ThreadStore) Create(ctx context.Context, th *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[th.ThreadID] = cloneThread(th)
	return nil
}

func (s *ThreadStore) Get(ctx context.Context, threadID string) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *ThreadStore) SetTitle(ctx context.Context, threadID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return store.ErrNotFound
	}
	t.Title = &title
	return nil
}

func (s *ThreadStore) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*models.Thread, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Thread
	for _, t := range s.threads {
		if t.UserID == userID {
			all = append(all, cloneThread(t))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *ThreadStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return store.ErrNotFound
	}
	delete(s.threads, threadID)
	return nil
}

// --- SkillStore ---

// SkillStore is an in-memory store.SkillStore.
type SkillStore struct {
	mu          sync.Mutex
	skills      map[string]*models.Skill
	skillByName map[string]string
}

var _ store.SkillStore = (*SkillStore)(nil)

func NewSkillStore() *SkillStore {
	return &SkillStore{skills: make(map[string]*models.Skill), skillByName: make(map[string]string)}
}

func (s *SkillStore) Create(ctx context.Context, sk *models.Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.skillByName[sk.Name]; ok {
		return store.ErrDuplicate
	}
	s.skills[sk.SkillID] = cloneSkill(sk)
	s.skillByName[sk.Name] = sk.SkillID
	return nil
}

func (s *SkillStore) Get(ctx context.Context, skillID string) (*models.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.skills[skillID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSkill(sk), nil
}

func (s *SkillStore) GetByName(ctx context.Context, name string) (*models.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.skillByName[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSkill(s.skills[id]), nil
}

func (s *SkillStore) Update(ctx context.Context, sk *models.Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.skills[sk.SkillID]; !ok {
		return store.ErrNotFound
	}
	s.skills[sk.SkillID] = cloneSkill(sk)
	return nil
}

func (s *SkillStore) Delete(ctx context.Context, skillID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.skills[skillID]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.skillByName, sk.Name)
	delete(s.skills, skillID)
	return nil
}

func (s *SkillStore) List(ctx context.Context, status *models.SkillStatus, offset, limit int) ([]*models.Skill, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Skill
	for _, sk := range s.skills {
		if status != nil && sk.Status != *status {
			continue
		}
		all = append(all, cloneSkill(sk))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *SkillStore) ListApproved(ctx context.Context) ([]*models.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Skill
	for _, sk := range s.skills {
		if sk.Status == models.SkillStatusApproved {
			out = append(out, cloneSkill(sk))
		}
	}
	return out, nil
}

// --- ImageVersionStore ---

// ImageVersionStore is an in-memory store.ImageVersionStore.
type ImageVersionStore struct {
	mu       sync.Mutex
	versions []*models.ImageVersion
}

var _ store.ImageVersionStore = (*ImageVersionStore)(nil)

func NewImageVersionStore() *ImageVersionStore {
	return &ImageVersionStore{}
}

func (s *ImageVersionStore) Create(ctx context.Context, v *models.ImageVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *v
	s.versions = append(s.versions, &c)
	return nil
}

func (s *ImageVersionStore) Current(ctx context.Context) (*models.ImageVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.IsCurrent {
			c := *v
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *ImageVersionStore) SetCurrent(ctx context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, v := range s.versions {
		if v.Version == version {
			v.IsCurrent = true
			found = true
		} else {
			v.IsCurrent = false
		}
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}
