package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8000", "server base url")
	code := flag.String("code", "SKU-101", "catalog code viewers ask for")
	platforms := flag.String("platforms", "facebook,youtube", "comma separated platforms")
	pin := flag.Bool("pin", true, "pin the code before the flood")

	// 每个观众在每个平台重复评论同一款号，最终每人只能生成一单
	nViewers := flag.Int("viewers", 200, "distinct viewers")
	repeats := flag.Int("repeats", 3, "comments per viewer and platform")
	concurrency := flag.Int("c", 50, "max concurrency")
	burst := flag.Int("burst", 0, "extra requests from one client to probe the feed rate limit")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	plats := strings.Split(*platforms, ",")

	var session struct {
		ID string `json:"id"`
	}
	if err := doJSON(client, http.MethodPost, *baseURL+"/api/live/sessions/", map[string]any{
		"title":     "loadtest " + time.Now().Format(time.Kitchen),
		"platforms": plats,
	}, &session); err != nil {
		fail("create session: %v", err)
	}
	fmt.Println("session:", session.ID)

	if *pin {
		if err := doJSON(client, http.MethodPost,
			fmt.Sprintf("%s/api/live/sessions/%s/pin?saree_code=%s", *baseURL, session.ID, *code), nil, nil); err != nil {
			fail("pin: %v", err)
		}
	}

	fmt.Printf("start comment flood: viewers=%d platforms=%d repeats=%d concurrency=%d\n",
		*nViewers, len(plats), *repeats, *concurrency)
	start := time.Now()
	results := runFlood(client, *baseURL, session.ID, *code, plats, *nViewers, *repeats, *concurrency)
	elapsed := time.Since(start)
	printSummary("flood", results)
	fmt.Printf("  %.0f comments/s\n", float64(len(results))/elapsed.Seconds())

	if *burst > 0 {
		fmt.Printf("\nstart rate limit probe: %d requests\n", *burst)
		printSummary("rate_limit", runFlood(client, *baseURL, session.ID, *code, plats[:1], *burst, 1, *burst))
	}

	// 结束直播会先排空已接收的评论，再冻结统计
	if err := doJSON(client, http.MethodPost,
		fmt.Sprintf("%s/api/live/sessions/%s/end", *baseURL, session.ID), nil, nil); err != nil {
		fail("end session: %v", err)
	}

	var orders []struct {
		OrderID  string `json:"order_id"`
		ViewerID string `json:"viewer_id"`
		Code     string `json:"saree_code"`
	}
	if err := doJSON(client, http.MethodGet,
		fmt.Sprintf("%s/api/orders/?live_session_id=%s", *baseURL, session.ID), nil, &orders); err != nil {
		fail("list orders: %v", err)
	}

	perViewer := map[string]int{}
	for _, o := range orders {
		perViewer[o.ViewerID+"/"+o.Code]++
	}
	var dupes []string
	for k, n := range perViewer {
		if n > 1 {
			dupes = append(dupes, fmt.Sprintf("%s x%d", k, n))
		}
	}
	sort.Strings(dupes)
	fmt.Printf("\norders: %d for %d viewers\n", len(orders), *nViewers)
	if len(dupes) > 0 {
		fail("duplicate orders: %v", dupes)
	}
	fmt.Println("dedup ok")
}

func runFlood(client *http.Client, baseURL, sessionID, code string, platforms []string, nViewers, repeats, concurrency int) []Result {
	type job struct {
		viewer   int
		platform string
	}
	var jobs []job
	for r := 0; r < repeats; r++ {
		for v := 0; v < nViewers; v++ {
			for _, p := range platforms {
				jobs = append(jobs, job{viewer: v + 1, platform: p})
			}
		}
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, len(jobs))
	for i, j := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, j job) {
			defer wg.Done()
			defer func() { <-sem }()

			viewer := fmt.Sprintf("viewer-%d", j.viewer)
			results[idx] = post(client, fmt.Sprintf("%s/api/live/sessions/%s/feed/%s", baseURL, sessionID, j.platform),
				map[string]any{
					"viewer_id": viewer,
					"username":  viewer,
					"text":      fmt.Sprintf("%s please!", code),
					"sent_at":   time.Now(),
				})
		}(i, j)
	}
	wg.Wait()
	return results
}

func post(client *http.Client, url string, body any) Result {
	status, raw, err := send(client, http.MethodPost, url, body)
	return Result{Status: status, Body: string(raw), Err: err}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	byStatus := map[int]int{}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			byStatus[r.Status]++
		}
	}
	codes := make([]int, 0, len(byStatus))
	for code := range byStatus {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Printf("[%s] %d calls\n", name, len(results))
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, byStatus[code])
	}
	if failed > 0 {
		fmt.Printf("  transport errors: %d\n", failed)
	}
}

func send(client *http.Client, method, url string, body any) (int, []byte, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}

// doJSON 以 JSON 发送 body，2xx 时把响应解码到 out（可为空）。
func doJSON(client *http.Client, method, url string, body, out any) error {
	status, raw, err := send(client, method, url, body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("status=%d body=%s", status, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
