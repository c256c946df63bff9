package historysync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/robfig/cron/v3"
)

const (
	DefaultPollInterval = 30 * time.Second
	defaultFetchTimeout = 10 * time.Second
	fetchPageSize       = 200
)

// Fetcher loads the messages of a room newer than sinceId, oldest first. A
// sinceId of zero loads the most recent page.
type Fetcher interface {
	FetchSince(ctx context.Context, roomId, sinceId int64) ([]types.Message, error)
}

// Poller periodically re-fetches a room's history from the reconciler's
// cursor and hands unseen messages to deliver.
type Poller struct {
	log     *log.Logger
	roomId  int64
	fetcher Fetcher
	rec     *Reconciler
	deliver func([]types.Message)
	runner  *cron.Cron
}

func NewPoller(logger *log.Logger, roomId int64, fetcher Fetcher, rec *Reconciler, interval time.Duration,
	deliver func([]types.Message)) (*Poller, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.Default()
	}

	p := &Poller{
		log:     logger,
		roomId:  roomId,
		fetcher: fetcher,
		rec:     rec,
		deliver: deliver,
		runner: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}

	if _, err := p.runner.AddFunc("@every "+interval.String(), p.poll); err != nil {
		return nil, fmt.Errorf("schedule poll: %w", err)
	}

	return p, nil
}

// Sync fetches once from the current cursor and delivers what was not shown
// yet. It returns the number of delivered messages.
func (p *Poller) Sync(ctx context.Context) (int, error) {
	msgs, err := p.fetcher.FetchSince(ctx, p.roomId, p.rec.Cursor())
	if err != nil {
		return 0, fmt.Errorf("fetch room %d: %w", p.roomId, err)
	}

	fresh := p.rec.Merge(msgs)
	if len(fresh) > 0 && p.deliver != nil {
		p.deliver(fresh)
	}

	return len(fresh), nil
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultFetchTimeout)
	defer cancel()

	n, err := p.Sync(ctx)
	if err != nil {
		p.log.Printf("history sync: %v", err)
		return
	}
	if n > 0 {
		p.log.Printf("history sync: recovered %d message(s) in room %d", n, p.roomId)
	}
}

func (p *Poller) Start() {
	p.runner.Start()
}

// Stop halts the schedule and waits for a running poll to finish.
func (p *Poller) Stop() {
	<-p.runner.Stop().Done()
}

// HTTPFetcher reads history from the relay's REST endpoint.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPFetcher authenticates with the session token issued at login. A nil
// client uses http.DefaultClient.
func NewHTTPFetcher(baseURL, token string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (f *HTTPFetcher) FetchSince(ctx context.Context, roomId, sinceId int64) ([]types.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(fetchPageSize))
	if sinceId > 0 {
		q.Set("since_id", strconv.FormatInt(sinceId, 10))
	}

	u := fmt.Sprintf("%s/api/rooms/%d/messages?%s", f.baseURL, roomId, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get messages: unexpected status %s", resp.Status)
	}

	var msgs []types.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	return msgs, nil
}
