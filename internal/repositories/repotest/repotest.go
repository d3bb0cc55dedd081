// Package repotest provides in-memory implementations of the repository interfaces for tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func sameRef(a, b *primitive.ObjectID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Store holds every collection so that populated reads can resolve references.
type Store struct {
	mu            sync.Mutex
	Users         map[primitive.ObjectID]*models.User
	Posts         map[primitive.ObjectID]*models.Post
	Comments      map[primitive.ObjectID]*models.Comment
	Messages      map[primitive.ObjectID]*models.Message
	Notifications []*models.Notification
	Effects       map[primitive.ObjectID]*models.Effect
	Attempts      []models.DeliveryAttempt
	DigestRuns    []models.DigestRun
}

func NewStore() *Store {
	return &Store{
		Users:    map[primitive.ObjectID]*models.User{},
		Posts:    map[primitive.ObjectID]*models.Post{},
		Comments: map[primitive.ObjectID]*models.Comment{},
		Messages: map[primitive.ObjectID]*models.Message{},
		Effects:  map[primitive.ObjectID]*models.Effect{},
	}
}

// TxRunner runs fn directly.
type TxRunner struct{}

func (TxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// AddUser inserts a user and returns it.
func (s *Store) AddUser(username, email string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{
		ID:          primitive.NewObjectID(),
		Username:    username,
		Email:       email,
		EmailDigest: true,
		CreatedAt:   time.Now(),
	}
	s.Users[u.ID] = u
	return u
}

// NotificationsFor returns copies of the stored notifications for recipient.
func (s *Store) NotificationsFor(recipient primitive.ObjectID) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.Notifications {
		if n.Recipient == recipient {
			out = append(out, *n)
		}
	}
	return out
}

// ---- notifications

type NotificationRepository struct{ S *Store }

func (r *NotificationRepository) EnsureIndexes(context.Context) error { return nil }

func (r *NotificationRepository) Create(_ context.Context, n *models.Notification) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	for _, existing := range r.S.Notifications {
		if existing.Type == n.Type && existing.Sender == n.Sender && existing.Recipient == n.Recipient &&
			sameRef(existing.Post, n.Post) && sameRef(existing.Comment, n.Comment) && sameRef(existing.Message, n.Message) {
			return repositories.ErrDuplicate
		}
	}
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	cp := *n
	r.S.Notifications = append(r.S.Notifications, &cp)
	return nil
}

func (r *NotificationRepository) FindByKey(_ context.Context, n *models.Notification) (*models.Notification, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	for _, existing := range r.S.Notifications {
		if existing.Type == n.Type && existing.Sender == n.Sender && existing.Recipient == n.Recipient &&
			sameRef(existing.Post, n.Post) && sameRef(existing.Comment, n.Comment) && sameRef(existing.Message, n.Message) {
			cp := *existing
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *NotificationRepository) FindByRecipient(_ context.Context, recipient primitive.ObjectID) ([]models.PopulatedNotification, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	out := []models.PopulatedNotification{}
	for _, n := range r.S.Notifications {
		if n.Recipient != recipient {
			continue
		}
		p := models.PopulatedNotification{
			ID: n.ID, Type: n.Type, Recipient: n.Recipient, Read: n.Read, Title: n.Title,
			Body: n.Body, Data: n.Data, Sent: n.Sent, CreatedAt: n.CreatedAt,
		}
		if u, ok := r.S.Users[n.Sender]; ok {
			p.Sender = &models.UserSummary{ID: u.ID, Username: u.Username}
		}
		if n.Post != nil {
			if post, ok := r.S.Posts[*n.Post]; ok {
				cp := *post
				p.Post = &cp
			}
		}
		if n.Comment != nil {
			if c, ok := r.S.Comments[*n.Comment]; ok {
				cp := *c
				p.Comment = &cp
			}
		}
		if n.Message != nil {
			if m, ok := r.S.Messages[*n.Message]; ok {
				cp := *m
				p.Message = &cp
			}
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *NotificationRepository) FindUnreadSince(_ context.Context, recipient primitive.ObjectID, since time.Time) ([]models.Notification, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	var out []models.Notification
	for _, n := range r.S.Notifications {
		if n.Recipient == recipient && !n.Read && !n.CreatedAt.Before(since) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (r *NotificationRepository) UnreadCount(_ context.Context, recipient primitive.ObjectID) (int64, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	var count int64
	for _, n := range r.S.Notifications {
		if n.Recipient == recipient && !n.Read {
			count++
		}
	}
	return count, nil
}

func (r *NotificationRepository) MarkAsRead(_ context.Context, id, recipient primitive.ObjectID) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	for _, n := range r.S.Notifications {
		if n.ID == id && n.Recipient == recipient {
			n.Read = true
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (r *NotificationRepository) MarkAllAsRead(_ context.Context, recipient primitive.ObjectID) (int64, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	var modified int64
	for _, n := range r.S.Notifications {
		if n.Recipient == recipient && !n.Read {
			n.Read = true
			modified++
		}
	}
	return modified, nil
}

func (r *NotificationRepository) MarkSent(_ context.Context, id primitive.ObjectID) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	for _, n := range r.S.Notifications {
		if n.ID == id {
			n.Sent = true
		}
	}
	return nil
}

// ---- users

type UserRepository struct{ S *Store }

func (r *UserRepository) EnsureIndexes(context.Context) error { return nil }

func (r *UserRepository) CreateUser(_ context.Context, user *models.User) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	for _, u := range r.S.Users {
		if u.Email == user.Email || u.Username == user.Username {
			return repositories.ErrDuplicate
		}
	}
	user.ID = primitive.NewObjectID()
	user.CreatedAt = time.Now()
	cp := *user
	r.S.Users[user.ID] = &cp
	return nil
}

func (r *UserRepository) get(match func(*models.User) bool) (*models.User, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	for _, u := range r.S.Users {
		if match(u) {
			cp := *u
			cp.Devices = append([]models.Device(nil), u.Devices...)
			cp.WebPushSubscriptions = append([]models.WebPushSubscription(nil), u.WebPushSubscriptions...)
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *UserRepository) GetUserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.get(func(u *models.User) bool { return u.ID == id })
}

func (r *UserRepository) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return r.get(func(u *models.User) bool { return u.Email == email })
}

func (r *UserRepository) GetUserByFirebaseUID(_ context.Context, uid string) (*models.User, error) {
	return r.get(func(u *models.User) bool { return uid != "" && u.FirebaseUID == uid })
}

func (r *UserRepository) AddDevice(_ context.Context, userID primitive.ObjectID, device models.Device) (bool, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	u, ok := r.S.Users[userID]
	if !ok {
		return false, repositories.ErrNotFound
	}
	for _, d := range u.Devices {
		if d.Token == device.Token {
			return false, nil
		}
	}
	u.Devices = append(u.Devices, device)
	return true, nil
}

func (r *UserRepository) AddWebPushSubscription(_ context.Context, userID primitive.ObjectID, sub models.WebPushSubscription) (bool, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	u, ok := r.S.Users[userID]
	if !ok {
		return false, repositories.ErrNotFound
	}
	for _, s := range u.WebPushSubscriptions {
		if s.Endpoint == sub.Endpoint {
			return false, nil
		}
	}
	u.WebPushSubscriptions = append(u.WebPushSubscriptions, sub)
	return true, nil
}

func (r *UserRepository) RemoveDevices(_ context.Context, userID primitive.ObjectID, tokens []string) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	u, ok := r.S.Users[userID]
	if !ok {
		return nil
	}
	drop := map[string]bool{}
	for _, t := range tokens {
		drop[t] = true
	}
	kept := u.Devices[:0]
	for _, d := range u.Devices {
		if !drop[d.Token] {
			kept = append(kept, d)
		}
	}
	u.Devices = kept
	return nil
}

func (r *UserRepository) RemoveWebPushSubscriptions(_ context.Context, userID primitive.ObjectID, endpoints []string) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	u, ok := r.S.Users[userID]
	if !ok {
		return nil
	}
	drop := map[string]bool{}
	for _, e := range endpoints {
		drop[e] = true
	}
	kept := u.WebPushSubscriptions[:0]
	for _, s := range u.WebPushSubscriptions {
		if !drop[s.Endpoint] {
			kept = append(kept, s)
		}
	}
	u.WebPushSubscriptions = kept
	return nil
}

func (r *UserRepository) IncrementPoints(_ context.Context, userID primitive.ObjectID, delta int) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	u, ok := r.S.Users[userID]
	if !ok {
		return repositories.ErrNotFound
	}
	u.SocialPoints += delta
	return nil
}

func (r *UserRepository) ForEachDigestRecipient(ctx context.Context, fn func(*models.User) error) error {
	r.S.mu.Lock()
	var users []models.User
	for _, u := range r.S.Users {
		if u.Email != "" && u.EmailDigest {
			users = append(users, *u)
		}
	}
	r.S.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	for i := range users {
		if err := fn(&users[i]); err != nil {
			return err
		}
	}
	return nil
}

// ---- posts

type PostRepository struct{ S *Store }

func (r *PostRepository) CreatePost(_ context.Context, post *models.Post) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	post.ID = primitive.NewObjectID()
	post.CreatedAt = time.Now()
	if post.Likes == nil {
		post.Likes = []primitive.ObjectID{}
	}
	cp := *post
	r.S.Posts[post.ID] = &cp
	return nil
}

func (r *PostRepository) GetPostByID(_ context.Context, id primitive.ObjectID) (*models.Post, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	p, ok := r.S.Posts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *p
	cp.Likes = append([]primitive.ObjectID(nil), p.Likes...)
	return &cp, nil
}

func (r *PostRepository) GetAllPosts(_ context.Context, skip, limit int64) ([]models.Post, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	posts := []models.Post{}
	for _, p := range r.S.Posts {
		posts = append(posts, *p)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
	if skip >= int64(len(posts)) {
		return []models.Post{}, nil
	}
	posts = posts[skip:]
	if limit > 0 && limit < int64(len(posts)) {
		posts = posts[:limit]
	}
	return posts, nil
}

func (r *PostRepository) DeletePost(_ context.Context, id primitive.ObjectID) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	if _, ok := r.S.Posts[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.S.Posts, id)
	return nil
}

func (r *PostRepository) ToggleLike(_ context.Context, postID, userID primitive.ObjectID) (*models.LikeResult, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	p, ok := r.S.Posts[postID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	for i, id := range p.Likes {
		if id == userID {
			p.Likes = append(p.Likes[:i], p.Likes[i+1:]...)
			p.LikesCount--
			return &models.LikeResult{PostID: postID, Liked: false, LikesCount: p.LikesCount}, nil
		}
	}
	p.Likes = append(p.Likes, userID)
	p.LikesCount++
	return &models.LikeResult{PostID: postID, Liked: true, LikesCount: p.LikesCount}, nil
}

func (r *PostRepository) IncrementCommentsCount(_ context.Context, postID primitive.ObjectID, delta int) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	if p, ok := r.S.Posts[postID]; ok {
		p.CommentsCount += delta
	}
	return nil
}

// ---- comments

type CommentRepository struct{ S *Store }

func (r *CommentRepository) CreateComment(_ context.Context, c *models.Comment) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	c.ID = primitive.NewObjectID()
	c.CreatedAt = time.Now()
	cp := *c
	r.S.Comments[c.ID] = &cp
	return nil
}

func (r *CommentRepository) GetCommentByID(_ context.Context, id primitive.ObjectID) (*models.Comment, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	c, ok := r.S.Comments[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CommentRepository) GetCommentsByPostID(_ context.Context, postID primitive.ObjectID) ([]models.Comment, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	out := []models.Comment{}
	for _, c := range r.S.Comments {
		if c.Post == postID {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *CommentRepository) DeleteCommentTree(_ context.Context, id primitive.ObjectID) (int64, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	doomed := map[primitive.ObjectID]bool{id: true}
	for grew := true; grew; {
		grew = false
		for cid, c := range r.S.Comments {
			if c.ParentComment != nil && doomed[*c.ParentComment] && !doomed[cid] {
				doomed[cid] = true
				grew = true
			}
		}
	}
	var n int64
	for cid := range doomed {
		if _, ok := r.S.Comments[cid]; ok {
			delete(r.S.Comments, cid)
			n++
		}
	}
	return n, nil
}

func (r *CommentRepository) DeleteCommentsByPostID(_ context.Context, postID primitive.ObjectID) (int64, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	var n int64
	for id, c := range r.S.Comments {
		if c.Post == postID {
			delete(r.S.Comments, id)
			n++
		}
	}
	return n, nil
}

// ---- messages

type MessageRepository struct{ S *Store }

func (r *MessageRepository) CreateMessage(_ context.Context, m *models.Message) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	m.ID = primitive.NewObjectID()
	m.CreatedAt = time.Now()
	cp := *m
	r.S.Messages[m.ID] = &cp
	return nil
}

func (r *MessageRepository) GetConversation(_ context.Context, a, b primitive.ObjectID, limit int64) ([]models.Message, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	out := []models.Message{}
	for _, m := range r.S.Messages {
		if (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a) {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- outbox

type OutboxRepository struct{ S *Store }

func (r *OutboxRepository) EnsureIndexes(context.Context) error { return nil }

func (r *OutboxRepository) Insert(_ context.Context, e *models.Effect) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	now := time.Now()
	e.ID = primitive.NewObjectID()
	e.Status = models.EffectPending
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = now
	}
	cp := *e
	r.S.Effects[e.ID] = &cp
	return nil
}

func due(e *models.Effect, now time.Time) bool {
	switch e.Status {
	case models.EffectPending:
		return !e.NextAttemptAt.After(now)
	case models.EffectProcessing:
		return e.LeaseUntil != nil && e.LeaseUntil.Before(now)
	}
	return false
}

func (r *OutboxRepository) lease(e *models.Effect, now time.Time, d time.Duration) *models.Effect {
	until := now.Add(d)
	e.Status = models.EffectProcessing
	e.LeaseUntil = &until
	e.UpdatedAt = now
	cp := *e
	return &cp
}

func (r *OutboxRepository) ClaimDue(_ context.Context, now time.Time, d time.Duration) (*models.Effect, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	var next *models.Effect
	for _, e := range r.S.Effects {
		if due(e, now) && (next == nil || e.NextAttemptAt.Before(next.NextAttemptAt)) {
			next = e
		}
	}
	if next == nil {
		return nil, repositories.ErrNotFound
	}
	return r.lease(next, now, d), nil
}

func (r *OutboxRepository) Get(_ context.Context, id primitive.ObjectID) (*models.Effect, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	e, ok := r.S.Effects[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *OutboxRepository) ClaimPoints(_ context.Context, id primitive.ObjectID) (bool, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	e, ok := r.S.Effects[id]
	if !ok || e.PointsApplied {
		return false, nil
	}
	e.PointsApplied = true
	return true, nil
}

func (r *OutboxRepository) ReleasePoints(_ context.Context, id primitive.ObjectID) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	if e, ok := r.S.Effects[id]; ok {
		e.PointsApplied = false
	}
	return nil
}

func (r *OutboxRepository) MarkDone(_ context.Context, id primitive.ObjectID) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	if e, ok := r.S.Effects[id]; ok {
		e.Status = models.EffectDone
		e.LeaseUntil = nil
	}
	return nil
}

func (r *OutboxRepository) MarkRetry(_ context.Context, id primitive.ObjectID, attempts int, next time.Time, lastErr string, failed bool) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	e, ok := r.S.Effects[id]
	if !ok {
		return nil
	}
	e.Attempts = attempts
	e.NextAttemptAt = next
	e.LastError = lastErr
	e.LeaseUntil = nil
	e.Status = models.EffectPending
	if failed {
		e.Status = models.EffectFailed
	}
	return nil
}

// Effect returns a copy of the stored effect.
func (s *Store) Effect(id primitive.ObjectID) (models.Effect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Effects[id]
	if !ok {
		return models.Effect{}, false
	}
	return *e, true
}

// ---- delivery ledger

type DeliveryRepository struct{ S *Store }

func (r *DeliveryRepository) RecordAttempts(_ context.Context, attempts []models.DeliveryAttempt) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	r.S.Attempts = append(r.S.Attempts, attempts...)
	return nil
}

func (r *DeliveryRepository) RecordDigestRun(_ context.Context, run *models.DigestRun) error {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	r.S.DigestRuns = append(r.S.DigestRuns, *run)
	return nil
}

func (r *DeliveryRepository) ListAttempts(_ context.Context, notificationID string) ([]models.DeliveryAttempt, error) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	var out []models.DeliveryAttempt
	for _, a := range r.S.Attempts {
		if a.NotificationID == notificationID {
			out = append(out, a)
		}
	}
	return out, nil
}

var (
	_ repositories.NotificationRepository = (*NotificationRepository)(nil)
	_ repositories.UserRepository         = (*UserRepository)(nil)
	_ repositories.PostRepository         = (*PostRepository)(nil)
	_ repositories.CommentRepository      = (*CommentRepository)(nil)
	_ repositories.MessageRepository      = (*MessageRepository)(nil)
	_ repositories.OutboxRepository       = (*OutboxRepository)(nil)
	_ repositories.DeliveryRepository     = (*DeliveryRepository)(nil)
	_ repositories.TxRunner               = TxRunner{}
)
