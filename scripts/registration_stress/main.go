package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type availability struct {
	Capacity          int `json:"capacity"`
	CurrentEnrollment int `json:"current_enrollment"`
	AvailableSeats    int `json:"available_seats"`
}

type outcome struct {
	StudentID string
	Status    int
	Code      string
	Duration  time.Duration
	Err       error
}

type client struct {
	http  *http.Client
	base  string
	token string
}

// Fires one registration per student into the same group at once and checks
// the group never ends up oversubscribed.
func main() {
	var (
		base     string
		email    string
		password string
		groupID  string
		students string
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&email, "email", "admin@example.com", "Admin email")
	flag.StringVar(&password, "password", "", "Admin password")
	flag.StringVar(&groupID, "group", "", "Target group ID")
	flag.StringVar(&students, "students", "", "Comma separated student IDs")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	ids := splitIDs(students)
	if groupID == "" || len(ids) == 0 {
		log.Fatal("both -group and -students are required")
	}

	c := &client{http: &http.Client{Timeout: timeout}, base: strings.TrimRight(base, "/")}
	if err := c.login(email, password); err != nil {
		log.Fatalf("login failed: %v", err)
	}

	before, err := c.availability(groupID)
	if err != nil {
		log.Fatalf("read availability: %v", err)
	}

	results := make([]outcome, len(ids))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, id := range ids {
		wg.Add(1)
		go func(i int, studentID string) {
			defer wg.Done()
			<-start
			results[i] = c.register(studentID, groupID)
		}(i, id)
	}
	close(start)
	wg.Wait()

	after, err := c.availability(groupID)
	if err != nil {
		log.Fatalf("read availability: %v", err)
	}

	created := printReport(results)
	fmt.Printf("Before: %d/%d seats taken, after: %d/%d\n", before.CurrentEnrollment, before.Capacity, after.CurrentEnrollment, after.Capacity)

	if after.CurrentEnrollment > after.Capacity || after.AvailableSeats < 0 {
		fmt.Println("FAIL: group is oversubscribed")
		os.Exit(1)
	}
	if before.CurrentEnrollment+created != after.CurrentEnrollment {
		fmt.Printf("FAIL: %d registrations succeeded but enrollment moved by %d\n", created, after.CurrentEnrollment-before.CurrentEnrollment)
		os.Exit(1)
	}
}

func (c *client) login(email, password string) error {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	status, code, err := c.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("status %d (%s)", status, code)
	}
	c.token = out.AccessToken
	return nil
}

func (c *client) availability(groupID string) (*availability, error) {
	var out availability
	status, code, err := c.do(http.MethodGet, "/groups/"+groupID+"/availability", nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("status %d (%s)", status, code)
	}
	return &out, nil
}

func (c *client) register(studentID, groupID string) outcome {
	started := time.Now()
	status, code, err := c.do(http.MethodPost, "/registrations", map[string]string{"student_id": studentID, "group_id": groupID}, nil)
	return outcome{StudentID: studentID, Status: status, Code: code, Duration: time.Since(started), Err: err}
}

func (c *client) do(method, path string, body interface{}, dest interface{}) (int, string, error) {
	if c.http == nil {
		return 0, "", errors.New("nil client")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, "", err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decode body: %w", err)
	}
	if env.Error != nil {
		return resp.StatusCode, env.Error.Code, nil
	}
	if dest != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dest); err != nil {
			return resp.StatusCode, "", fmt.Errorf("decode data: %w", err)
		}
	}
	return resp.StatusCode, "", nil
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printReport(results []outcome) int {
	fmt.Println("Registration Stress Report")
	fmt.Println("==========================")

	counts := make(map[string]int)
	created := 0
	for _, res := range results {
		label := fmt.Sprintf("%d %s", res.Status, res.Code)
		if res.Err != nil {
			label = "ERROR"
		}
		counts[label]++
		if res.Status == http.StatusCreated {
			created++
		}
		fmt.Printf("[%s] student=%s (%s)\n", label, res.StudentID, res.Duration)
		if res.Err != nil {
			fmt.Printf("  Error: %v\n", res.Err)
		}
	}

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Printf("%-28s %d\n", label, counts[label])
	}
	return created
}
