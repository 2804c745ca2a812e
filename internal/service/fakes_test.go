package service

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/auth"
	"github.com/sakif/mercado-insights/internal/billing"
	"github.com/sakif/mercado-insights/internal/llm"
	"github.com/sakif/mercado-insights/internal/marketplace"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/notify"
	"github.com/sakif/mercado-insights/internal/repository"
	"github.com/sakif/mercado-insights/internal/telemetry"
	"github.com/sakif/mercado-insights/internal/worker"
)

// =========================================================================
// IN-MEMORY STORE
// =========================================================================
//
// memStore implements every repository interface the services use, with
// the same not-found and conflict behaviour as the SQLite implementation.

type memStore struct {
	mu        sync.Mutex
	users     map[string]*model.User
	subs      map[string]*model.Subscription
	creds     map[string]*model.Credential
	questions map[string]*model.PendingQuestion
	feedback  []model.QuestionFeedback
	costs     map[string]map[string]model.CostRecord
	states    map[string]memState

	saveCredErr error
	nextID      int
}

var (
	_ repository.UserRepository         = (*memStore)(nil)
	_ repository.SubscriptionRepository = (*memStore)(nil)
	_ repository.CredentialRepository   = (*memStore)(nil)
	_ repository.OAuthStateRepository   = (*memStore)(nil)
	_ repository.QuestionRepository     = (*memStore)(nil)
	_ repository.FeedbackRepository     = (*memStore)(nil)
	_ repository.CostRepository         = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*model.User),
		subs:      make(map[string]*model.Subscription),
		creds:     make(map[string]*model.Credential),
		questions: make(map[string]*model.PendingQuestion),
		costs:     make(map[string]map[string]model.CostRecord),
		states:    make(map[string]memState),
	}
}

type memState struct {
	userID    string
	expiresAt time.Time
}

func (m *memStore) SaveOAuthState(_ context.Context, userID, state string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = memState{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) ConsumeOAuthState(_ context.Context, userID, state string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[state]
	if !ok || st.userID != userID || !now.Before(st.expiresAt) {
		return apperror.NotFound("estado de autorização", state)
	}
	delete(m.states, state)
	return nil
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return prefix + "-" + strconv.Itoa(m.nextID)
}

func (m *memStore) addUser(u model.User) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = m.id("user")
	}
	if u.Plan == "" {
		u.Plan = model.PlanFree
	}
	m.users[u.ID] = &u
	return &u
}

func (m *memStore) GetOrCreateUser(_ context.Context, clerkUserID, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ClerkUserID == clerkUserID {
			if email != "" {
				u.Email = email
			}
			cp := *u
			return &cp, nil
		}
	}
	u := &model.User{ID: m.id("user"), ClerkUserID: clerkUserID, Email: email, Plan: model.PlanFree}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("usuário", id)
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByClerkID(_ context.Context, clerkUserID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ClerkUserID == clerkUserID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("usuário", clerkUserID)
}

func (m *memStore) UpdatePlan(_ context.Context, userID string, plan model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return apperror.NotFound("usuário", userID)
	}
	u.Plan = plan
	return nil
}

func (m *memStore) UpdateNotificationSettings(_ context.Context, userID, chatID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return apperror.NotFound("usuário", userID)
	}
	u.TelegramChatID = chatID
	u.NotifyEmail = email
	return nil
}

func (m *memStore) ListUsers(_ context.Context, _ repository.ListOptions) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetSubscriptionByExternalID(_ context.Context, externalID string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[externalID]
	if !ok {
		return nil, apperror.NotFound("assinatura", externalID)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) SaveSubscription(_ context.Context, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.subs[sub.ExternalID]; ok {
		sub.ID = prev.ID
		if sub.StartedAt == nil {
			sub.StartedAt = prev.StartedAt
		}
	} else {
		sub.ID = m.id("sub")
	}
	cp := *sub
	m.subs[sub.ExternalID] = &cp
	return nil
}

func (m *memStore) ListSubscriptions(_ context.Context, _ repository.ListOptions) ([]model.SubscriptionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SubscriptionView
	for _, s := range m.subs {
		v := model.SubscriptionView{Subscription: *s}
		if u, ok := m.users[s.UserID]; ok {
			v.UserEmail = u.Email
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *memStore) GetCredential(_ context.Context, userID string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return nil, apperror.NotFound("credencial", userID)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) SaveCredential(_ context.Context, cred *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveCredErr != nil {
		return m.saveCredErr
	}
	for uid, c := range m.creds {
		if uid != cred.UserID && cred.SellerID != "" && c.SellerID == cred.SellerID {
			c.SellerID = ""
		}
	}
	cp := *cred
	m.creds[cred.UserID] = &cp
	return nil
}

func (m *memStore) FindUserIDBySellerID(_ context.Context, sellerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, c := range m.creds {
		if c.SellerID == sellerID {
			return uid, nil
		}
	}
	return "", apperror.NotFound("vendedor", sellerID)
}

func (m *memStore) ListCredentialUserIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for uid := range m.creds {
		ids = append(ids, uid)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) CreatePendingQuestion(_ context.Context, q *model.PendingQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.questions[q.QuestionID]; dup {
		return apperror.Conflict("pergunta", q.QuestionID)
	}
	q.ID = m.id("pq")
	q.Status = model.QuestionPending
	q.CreatedAt = time.Now()
	cp := *q
	m.questions[q.QuestionID] = &cp
	return nil
}

func (m *memStore) QuestionExists(_ context.Context, questionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.questions[questionID]
	return ok, nil
}

func (m *memStore) GetPendingQuestion(_ context.Context, userID, questionID string) (*model.PendingQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok || q.UserID != userID {
		return nil, apperror.NotFound("pergunta", questionID)
	}
	cp := *q
	return &cp, nil
}

func (m *memStore) ListPendingQuestions(_ context.Context, userID string) ([]model.PendingQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PendingQuestion
	for _, q := range m.questions {
		if q.UserID == userID && q.Status == model.QuestionPending {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (m *memStore) MarkPublished(_ context.Context, id string, publishedAt time.Time, fb *model.QuestionFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.questions {
		if q.ID != id {
			continue
		}
		if q.Status != model.QuestionPending {
			break
		}
		q.Status = model.QuestionPublished
		q.PublishedAt = &publishedAt
		if fb != nil {
			fb.ID = m.id("fb")
			fb.CreatedAt = publishedAt
			m.feedback = append(m.feedback, *fb)
		}
		return nil
	}
	return apperror.NotFound("pergunta pendente", id)
}

func (m *memStore) RecentFeedback(_ context.Context, userID string, limit int) ([]model.QuestionFeedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.QuestionFeedback
	for i := len(m.feedback) - 1; i >= 0 && len(out) < limit; i-- {
		if m.feedback[i].UserID == userID {
			out = append(out, m.feedback[i])
		}
	}
	return out, nil
}

func (m *memStore) PruneFeedback(_ context.Context, _ int) (int64, error) {
	return 0, nil
}

func (m *memStore) ListCosts(_ context.Context, userID string) (map[string]model.CostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.CostRecord)
	for k, v := range m.costs[userID] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) UpsertCosts(_ context.Context, userID string, updates []model.CostUpdate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.costs[userID] == nil {
		m.costs[userID] = make(map[string]model.CostRecord)
	}
	for _, u := range updates {
		rec := m.costs[userID][u.ItemID]
		rec.UserID, rec.ItemID = userID, u.ItemID
		if u.ProductCost != nil {
			rec.ProductCost = u.ProductCost
		}
		if u.FeePct != nil {
			rec.FeePct = u.FeePct
		}
		if u.TaxPct != nil {
			rec.TaxPct = u.TaxPct
		}
		if u.Shipping != nil {
			rec.Shipping = *u.Shipping
		}
		if u.Packaging != nil {
			rec.Packaging = *u.Packaging
		}
		if u.SKU != nil {
			rec.SKU = *u.SKU
		}
		m.costs[userID][u.ItemID] = rec
	}
	return len(updates), nil
}

func (m *memStore) feedbackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feedback)
}

func (m *memStore) questionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.questions)
}

// =========================================================================
// MARKETPLACE + OAUTH FAKES
// =========================================================================

// fakeMarket answers from in-memory maps. Questions are visible only to
// the access token listed in questionTokens.
type fakeMarket struct {
	mu             sync.Mutex
	account        marketplace.Account
	items          map[string]marketplace.Item
	itemIDs        map[string][]string // status -> ids
	questions      map[string]marketplace.Question
	questionTokens map[string]string // question id -> token allowed to read it
	orders         map[string]marketplace.Order
	search         []marketplace.SearchHit
	descErr        error
	getItemErr     error
	postErr        error
	listErr        error

	posted        []string
	getQuestionBy []string
	searchTokens  []string
}

var _ Marketplace = (*fakeMarket)(nil)

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		items:          make(map[string]marketplace.Item),
		itemIDs:        make(map[string][]string),
		questions:      make(map[string]marketplace.Question),
		questionTokens: make(map[string]string),
		orders:         make(map[string]marketplace.Order),
	}
}

func notFoundErr() error {
	return &marketplace.APIError{Method: "GET", StatusCode: 404, Body: "not found"}
}

func (f *fakeMarket) GetMe(context.Context, string) (*marketplace.Account, error) {
	acc := f.account
	return &acc, nil
}

func (f *fakeMarket) ListItemIDs(_ context.Context, _, _, status string, _, _ int) (*marketplace.ItemIDPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []string
	if status == marketplace.StatusAll {
		for _, st := range []string{"active", "paused", "closed"} {
			ids = append(ids, f.itemIDs[st]...)
		}
	} else {
		ids = append(ids, f.itemIDs[status]...)
	}
	if ids == nil {
		ids = []string{}
	}
	return &marketplace.ItemIDPage{Results: ids, Paging: marketplace.Paging{Total: len(ids), Limit: 50}}, nil
}

func (f *fakeMarket) GetItem(_ context.Context, _, itemID string) (*marketplace.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getItemErr != nil {
		return nil, f.getItemErr
	}
	it, ok := f.items[itemID]
	if !ok {
		return nil, notFoundErr()
	}
	return &it, nil
}

func (f *fakeMarket) GetItemDescription(context.Context, string, string) (string, error) {
	if f.descErr != nil {
		return "", f.descErr
	}
	return "descrição", nil
}

func (f *fakeMarket) GetItems(_ context.Context, _ string, ids []string) ([]marketplace.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []marketplace.Item
	for _, id := range ids {
		if it, ok := f.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeMarket) ListOrders(_ context.Context, _, _, status string, _, _ int) (*marketplace.OrderPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []marketplace.Order
	for _, o := range f.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	return &marketplace.OrderPage{Results: out, Paging: marketplace.Paging{Total: len(out)}}, nil
}

func (f *fakeMarket) GetOrder(_ context.Context, _, orderID string) (*marketplace.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, notFoundErr()
	}
	return &o, nil
}

func (f *fakeMarket) SearchQuestions(_ context.Context, _ string, _ marketplace.QuestionFilter) (*marketplace.QuestionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []marketplace.Question
	for _, q := range f.questions {
		out = append(out, q)
	}
	return &marketplace.QuestionPage{Questions: out, Total: len(out)}, nil
}

func (f *fakeMarket) GetQuestion(_ context.Context, token, questionID string) (*marketplace.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getQuestionBy = append(f.getQuestionBy, token)
	q, ok := f.questions[questionID]
	if !ok {
		return nil, notFoundErr()
	}
	if allowed := f.questionTokens[questionID]; allowed != "" && allowed != token {
		return nil, &marketplace.APIError{Method: "GET", Path: "/questions/" + questionID, StatusCode: 403}
	}
	return &q, nil
}

func (f *fakeMarket) PostAnswer(_ context.Context, _, questionID, text string) (*marketplace.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.posted = append(f.posted, questionID+":"+text)
	q := f.questions[questionID]
	return &q, nil
}

func (f *fakeMarket) Search(_ context.Context, token string, _ marketplace.SearchQuery) (*marketplace.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchTokens = append(f.searchTokens, token)
	return &marketplace.SearchPage{Results: f.search, Paging: marketplace.Paging{Total: len(f.search)}}, nil
}

type fakeProvider struct {
	mu           sync.Mutex
	grant        *auth.Grant
	exchangeErr  error
	refreshErr   error
	refreshCalls int
	refreshed    []string
	exchanged    int
}

var _ OAuthProvider = (*fakeProvider)(nil)

func (p *fakeProvider) AuthURL(state string) string {
	return "https://auth.example/authorization?state=" + state
}

func (p *fakeProvider) Exchange(context.Context, string) (*auth.Grant, error) {
	p.mu.Lock()
	p.exchanged++
	p.mu.Unlock()
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	g := *p.grant
	return &g, nil
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*auth.Grant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	p.refreshed = append(p.refreshed, refreshToken)
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	g := *p.grant
	return &g, nil
}

// staticTokens hands out stored credentials without refreshing.
type staticTokens struct {
	store *memStore
}

func (s staticTokens) GetValidToken(ctx context.Context, userID string) (*model.Credential, error) {
	c, err := s.store.GetCredential(ctx, userID)
	if err != nil {
		return nil, apperror.NotConnected()
	}
	return c, nil
}

// =========================================================================
// COLLABORATOR FAKES
// =========================================================================

type fakeDrafter struct {
	text      string
	err       error
	reqs      []llm.DraftRequest
	deadlines []time.Time
}

func (d *fakeDrafter) DraftAnswer(ctx context.Context, req llm.DraftRequest) (string, error) {
	d.reqs = append(d.reqs, req)
	deadline, _ := ctx.Deadline()
	d.deadlines = append(d.deadlines, deadline)
	return d.text, d.err
}

type fakeAnalyzer struct {
	result Insights
	err    error
	prompt string
}

func (a *fakeAnalyzer) AnalyzeJSON(_ context.Context, prompt string, out any) error {
	a.prompt = prompt
	if a.err != nil {
		return a.err
	}
	*(out.(*Insights)) = a.result
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	err    error
	alerts []notify.QuestionAlert
	tests  []string
}

func (n *fakeNotifier) NotifyQuestion(_ context.Context, _ *model.User, a notify.QuestionAlert) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	if n.err != nil {
		return "", n.err
	}
	return notify.ChannelTelegram, nil
}

func (n *fakeNotifier) SendTest(_ context.Context, chatID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tests = append(n.tests, chatID)
	return n.err
}

// syncQueue records jobs and runs them inline when handler is set.
type syncQueue struct {
	err     error
	jobs    []worker.Job
	handler worker.Handler
}

func (q *syncQueue) Enqueue(ctx context.Context, job worker.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	if q.handler != nil {
		return q.handler(ctx, job.Payload)
	}
	return nil
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingTelemetry) Send(_ context.Context, e telemetry.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingTelemetry) Close() error { return nil }

func (r *recordingTelemetry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

type fakeGateway struct {
	plan        *billing.Plan
	planErr     error
	preapproval map[string]*billing.Preapproval
	plans       map[string]*billing.Plan
	requests    []billing.PlanRequest
}

func (g *fakeGateway) CreatePlan(_ context.Context, req billing.PlanRequest) (*billing.Plan, error) {
	g.requests = append(g.requests, req)
	if g.planErr != nil {
		return nil, g.planErr
	}
	return g.plan, nil
}

func (g *fakeGateway) GetPreapproval(_ context.Context, id string) (*billing.Preapproval, error) {
	p, ok := g.preapproval[id]
	if !ok {
		return nil, &billing.StatusError{Path: "/preapproval/" + id, StatusCode: 404}
	}
	return p, nil
}

func (g *fakeGateway) GetPreapprovalPlan(_ context.Context, id string) (*billing.Plan, error) {
	p, ok := g.plans[id]
	if !ok {
		return nil, &billing.StatusError{Path: "/preapproval_plan/" + id, StatusCode: 404}
	}
	return p, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func ptr(v float64) *float64 { return &v }
