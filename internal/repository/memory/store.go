package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
)

type prefKey struct {
	userID   string
	userType model.UserType
	kind     model.NotificationKind
}

type PreferenceRepository struct {
	mu   sync.RWMutex
	rows map[prefKey]model.Preference
}

func NewPreferenceRepository() *PreferenceRepository {
	return &PreferenceRepository{rows: make(map[prefKey]model.Preference)}
}

var _ repository.PreferenceRepository = (*PreferenceRepository)(nil)

func keyOf(p *model.Preference) prefKey {
	return prefKey{p.UserID, p.UserType, p.NotificationKind}
}

func copyPreference(p model.Preference) *model.Preference {
	p.Channels = append(model.ChannelList(nil), p.Channels...)
	if p.TimeWindow != nil {
		w := *p.TimeWindow
		p.TimeWindow = &w
	}
	return &p
}

func (r *PreferenceRepository) Get(_ context.Context, userID string, userType model.UserType, kind model.NotificationKind) (*model.Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rows[prefKey{userID, userType, kind}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyPreference(p), nil
}

func (r *PreferenceRepository) CreateIfAbsent(_ context.Context, p *model.Preference) (*model.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := keyOf(p)
	if existing, ok := r.rows[k]; ok {
		return copyPreference(existing), nil
	}
	r.rows[k] = *copyPreference(*p)
	return copyPreference(*p), nil
}

func (r *PreferenceRepository) Upsert(_ context.Context, p *model.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[keyOf(p)] = *copyPreference(*p)
	return nil
}

func (r *PreferenceRepository) List(_ context.Context, userID string, userType model.UserType) ([]*model.Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.Preference{}
	for k, p := range r.rows {
		if k.userID == userID && k.userType == userType {
			out = append(out, copyPreference(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotificationKind < out[j].NotificationKind })
	return out, nil
}

// TemplateRepository serializes every write on one mutex, which gives SetDefault
// the same atomicity the postgres transaction does.
type TemplateRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.Template
	now  func() time.Time
}

func NewTemplateRepository() *TemplateRepository {
	return &TemplateRepository{rows: make(map[uuid.UUID]model.Template), now: time.Now}
}

var _ repository.TemplateRepository = (*TemplateRepository)(nil)

func copyTemplate(t model.Template) *model.Template {
	content := make(model.StringMap, len(t.Content))
	for k, v := range t.Content {
		content[k] = v
	}
	t.Content = content
	t.Variables = append(model.StringList(nil), t.Variables...)
	return &t
}

func (r *TemplateRepository) defaultFor(key model.TemplateKey) (model.Template, bool) {
	for _, t := range r.rows {
		if t.IsDefault && t.Key() == key {
			return t, true
		}
	}
	return model.Template{}, false
}

func (r *TemplateRepository) Create(_ context.Context, t *model.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.IsDefault {
		if _, exists := r.defaultFor(t.Key()); exists {
			return repository.ErrConflict
		}
	}
	r.rows[t.ID] = *copyTemplate(*t)
	return nil
}

func (r *TemplateRepository) Get(_ context.Context, id uuid.UUID) (*model.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyTemplate(t), nil
}

func (r *TemplateRepository) Update(_ context.Context, t *model.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[t.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Name = t.Name
	stored.Content = t.Content
	stored.Variables = t.Variables
	stored.IsActive = t.IsActive
	stored.UpdatedAt = t.UpdatedAt
	r.rows[t.ID] = *copyTemplate(stored)
	return nil
}

func (r *TemplateRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *TemplateRepository) List(_ context.Context, f model.TemplateFilter) ([]*model.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Template{}
	for _, t := range r.rows {
		switch {
		case f.NotificationKind != "" && t.NotificationKind != f.NotificationKind:
			continue
		case f.Channel != "" && t.Channel != f.Channel:
			continue
		case f.Locale != "" && t.Locale != f.Locale:
			continue
		case f.ActiveOnly && !t.IsActive:
			continue
		}
		out = append(out, copyTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *TemplateRepository) GetDefault(_ context.Context, key model.TemplateKey) (*model.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.defaultFor(key)
	if !ok || !t.IsActive {
		return nil, repository.ErrNotFound
	}
	return copyTemplate(t), nil
}

func (r *TemplateRepository) CreateDefaultIfAbsent(_ context.Context, t *model.Template) (*model.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.defaultFor(t.Key()); ok {
		return copyTemplate(existing), nil
	}
	t.IsDefault = true
	r.rows[t.ID] = *copyTemplate(*t)
	return copyTemplate(*t), nil
}

func (r *TemplateRepository) SetDefault(_ context.Context, id uuid.UUID) (*model.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !target.IsActive {
		return nil, repository.ErrInactive
	}
	if target.IsDefault {
		return copyTemplate(target), nil
	}
	now := r.now()
	if prev, ok := r.defaultFor(target.Key()); ok {
		prev.IsDefault = false
		prev.UpdatedAt = now
		r.rows[prev.ID] = prev
	}
	target.IsDefault = true
	target.UpdatedAt = now
	r.rows[id] = target
	return copyTemplate(target), nil
}

type contactKey struct {
	userID   string
	userType model.UserType
}

type ContactRepository struct {
	mu   sync.RWMutex
	rows map[contactKey]model.RecipientContact
}

func NewContactRepository() *ContactRepository {
	return &ContactRepository{rows: make(map[contactKey]model.RecipientContact)}
}

var _ repository.ContactRepository = (*ContactRepository)(nil)

func (r *ContactRepository) Get(_ context.Context, userID string, userType model.UserType) (*model.RecipientContact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rows[contactKey{userID, userType}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c.DeviceTokens = append(model.StringList(nil), c.DeviceTokens...)
	return &c, nil
}

func (r *ContactRepository) Upsert(_ context.Context, c *model.RecipientContact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *c
	stored.DeviceTokens = append(model.StringList(nil), c.DeviceTokens...)
	r.rows[contactKey{c.UserID, c.UserType}] = stored
	return nil
}

func (r *ContactRepository) AddDeviceToken(_ context.Context, userID string, userType model.UserType, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := contactKey{userID, userType}
	c, ok := r.rows[k]
	if !ok {
		c = model.RecipientContact{UserID: userID, UserType: userType}
	}
	for _, t := range c.DeviceTokens {
		if t == token {
			return nil
		}
	}
	c.DeviceTokens = append(c.DeviceTokens, token)
	c.UpdatedAt = time.Now()
	r.rows[k] = c
	return nil
}

func (r *ContactRepository) RemoveDeviceToken(_ context.Context, userID string, userType model.UserType, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := contactKey{userID, userType}
	c, ok := r.rows[k]
	if !ok {
		return repository.ErrNotFound
	}
	kept := c.DeviceTokens[:0]
	for _, t := range c.DeviceTokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	c.DeviceTokens = kept
	c.UpdatedAt = time.Now()
	r.rows[k] = c
	return nil
}
