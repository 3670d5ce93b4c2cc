package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/infra/httpx"
)

func jobs(n int) []Job {
	var out []Job
	for i := 1; i <= n; i++ {
		out = append(out, Job{Index: i, Name: string(rune('a' + i - 1)), Body: domain.Record{"n": i}.Body()})
	}
	return out
}

func TestUploader_BatchesDelaysAndSkipsFailures(t *testing.T) {
	var mu sync.Mutex
	var got []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/explores", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		b, _ := io.ReadAll(r.Body)
		var body struct {
			Data struct {
				N int `json:"n"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(b, &body))
		mu.Lock()
		got = append(got, body.Data.N)
		mu.Unlock()

		if body.Data.N == 3 {
			http.Error(w, `{"error":{"message":"Title must be unique"}}`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	var sleeps []time.Duration
	u := &Uploader{
		Client:    srv.Client(),
		BaseURL:   srv.URL,
		BatchSize: 2,
		Delay:     time.Second,
		sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}

	var order []int
	out := u.Run(context.Background(), "explores", jobs(5), func(o Outcome) { order = append(order, o.Index) })

	require.Len(t, out, 5)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, got)

	for _, o := range out {
		if o.Index == 3 {
			var se *httpx.StatusError
			require.ErrorAs(t, o.Err, &se)
			assert.Equal(t, http.StatusBadRequest, se.StatusCode)
			assert.Contains(t, Humanize(o.Err), "Title must be unique")
			continue
		}
		assert.NoError(t, o.Err, "index %d", o.Index)
	}
}

func TestUploader_ConcurrencyBoundedByBatch(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	u := &Uploader{Client: srv.Client(), BaseURL: srv.URL, BatchSize: 3}
	out := u.Run(context.Background(), "hotels", jobs(7), nil)
	require.Len(t, out, 7)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestUploader_CancelMarksRemainingFailed(t *testing.T) {
	calls := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	u := &Uploader{
		Client:    srv.Client(),
		BaseURL:   srv.URL,
		BatchSize: 2,
		Delay:     time.Hour,
		sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleepCtx(ctx, d)
		},
	}
	out := u.Run(ctx, "hotels", jobs(5), nil)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.NoError(t, out[0].Err)
	assert.NoError(t, out[1].Err)
	for _, o := range out[2:] {
		assert.True(t, errors.Is(o.Err, context.Canceled))
		assert.Equal(t, "运行被取消，记录未发送。", Humanize(o.Err))
	}
}

func TestUploader_DocumentIDUsesPut(t *testing.T) {
	var mu sync.Mutex
	got := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got[r.URL.Path] = r.Method
		mu.Unlock()
	}))
	defer srv.Close()

	u := &Uploader{Client: srv.Client(), BaseURL: srv.URL, BatchSize: 5}
	js := jobs(2)
	js[1].DocumentID = "abc123"
	out := u.Run(context.Background(), "attractions", js, nil)

	require.Len(t, out, 2)
	assert.NoError(t, out[0].Err)
	assert.NoError(t, out[1].Err)
	assert.Equal(t, map[string]string{
		"/api/attractions":        http.MethodPost,
		"/api/attractions/abc123": http.MethodPut,
	}, got)
}

func TestUploader_EachRunsEveryIndexInOrder(t *testing.T) {
	var sleeps int
	u := &Uploader{
		BatchSize: 2,
		Delay:     time.Second,
		sleep: func(ctx context.Context, d time.Duration) error {
			sleeps++
			return nil
		},
	}
	var seen int32
	var order []int
	u.Each(context.Background(), 5, func(ctx context.Context, i int) error {
		atomic.AddInt32(&seen, 1)
		if i == 2 {
			return errors.New("boom")
		}
		return nil
	}, func(i int, err error, _ time.Duration) {
		order = append(order, i)
		assert.Equal(t, i == 2, err != nil, "index %d", i)
	})

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, int32(5), atomic.LoadInt32(&seen))
	assert.Equal(t, 2, sleeps)
}

func TestUploader_BadBaseURL(t *testing.T) {
	u := &Uploader{Client: http.DefaultClient, BaseURL: "not-a-url"}
	out := u.Run(context.Background(), "hotels", jobs(2), nil)
	require.Len(t, out, 2)
	assert.Error(t, out[0].Err)
	assert.Error(t, out[1].Err)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "", Humanize(nil))
	assert.Contains(t, Humanize(&httpx.StatusError{StatusCode: 401}), "api_token")
	assert.Contains(t, Humanize(&httpx.StatusError{StatusCode: 404}), "endpoint")
	assert.Contains(t, Humanize(&httpx.StatusError{StatusCode: 429}), "batch_size")
	assert.Contains(t, Humanize(context.DeadlineExceeded), "超时")
}
