package main

import (
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
	"time"
)

type target struct {
	Library  string `json:"library"`
	Type     string `json:"type"`
	Critical bool   `json:"critical"`
}

type config struct {
	Targets []target `json:"targets"`
}

type comparison struct {
	Target         target
	PrimaryVersion string
	ReplicaVersion string
	Missing        []string
	Extra          []string
	Stale          []string
	Error          error
}

func (c comparison) inSync() bool {
	return c.Error == nil && c.PrimaryVersion == c.ReplicaVersion &&
		len(c.Missing) == 0 && len(c.Extra) == 0 && len(c.Stale) == 0
}

func main() {
	var (
		primaryBase string
		replicaBase string
		targetsPath string
		apiKey      string
		timeout     time.Duration
	)

	flag.StringVar(&primaryBase, "primary", "http://localhost:8080", "Primary deployment base URL")
	flag.StringVar(&replicaBase, "replica", "http://localhost:8081", "Replica deployment base URL")
	flag.StringVar(&targetsPath, "targets", "scripts/version_compare/targets.json", "Path to JSON targets file")
	flag.StringVar(&apiKey, "key", os.Getenv("LIBSYNC_API_KEY"), "API key sent as a bearer token")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	targets, err := loadTargets(targetsPath)
	if err != nil {
		log.Fatalf("failed to load targets: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	var (
		comparisons []comparison
		breaking    int
		optional    int
	)
	for _, t := range targets {
		comp := compareTarget(client, primaryBase, replicaBase, apiKey, t)
		if !comp.inSync() {
			if t.Critical {
				breaking++
			} else {
				optional++
			}
		}
		comparisons = append(comparisons, comp)
	}

	printReport(comparisons)
	fmt.Printf("Breaking diffs: %d, Optional diffs: %d\n", breaking, optional)
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return cfg.Targets, nil
}

func compareTarget(client *http.Client, primaryBase, replicaBase, apiKey string, tgt target) comparison {
	comp := comparison{Target: tgt}
	primary, primaryVersion, err := fetchVersions(client, primaryBase, apiKey, tgt)
	if err != nil {
		comp.Error = fmt.Errorf("primary: %w", err)
		return comp
	}
	replica, replicaVersion, err := fetchVersions(client, replicaBase, apiKey, tgt)
	if err != nil {
		comp.Error = fmt.Errorf("replica: %w", err)
		return comp
	}
	comp.PrimaryVersion = primaryVersion
	comp.ReplicaVersion = replicaVersion

	for key, version := range primary {
		other, ok := replica[key]
		switch {
		case !ok:
			comp.Missing = append(comp.Missing, key)
		case other != version:
			comp.Stale = append(comp.Stale, key)
		}
	}
	for key := range replica {
		if _, ok := primary[key]; !ok {
			comp.Extra = append(comp.Extra, key)
		}
	}
	sort.Strings(comp.Missing)
	sort.Strings(comp.Extra)
	sort.Strings(comp.Stale)
	return comp
}

func fetchVersions(client *http.Client, base, apiKey string, tgt target) (map[string]int64, string, error) {
	if client == nil {
		return nil, "", errors.New("nil client")
	}
	library := strings.Trim(tgt.Library, "/")
	objectType := strings.Trim(tgt.Type, "/")
	if objectType == "" {
		objectType = "items"
	}
	url := fmt.Sprintf("%s/%s/%s?format=versions", strings.TrimRight(base, "/"), library, objectType)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	versions := map[string]int64{}
	if err := json.Unmarshal(body, &versions); err != nil {
		return nil, "", fmt.Errorf("decode versions: %w", err)
	}
	return versions, resp.Header.Get("Last-Modified-Version"), nil
}

func printReport(results []comparison) {
	fmt.Println("Version Compare Report")
	fmt.Println("======================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if !res.inSync() {
			status = "DIFF"
		}
		fmt.Printf("[%s] %s/%s\n", status, res.Target.Library, res.Target.Type)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
			continue
		}
		fmt.Printf("  Library version: primary=%s replica=%s\n", res.PrimaryVersion, res.ReplicaVersion)
		printKeys("Missing on replica", res.Missing)
		printKeys("Only on replica", res.Extra)
		printKeys("Stale on replica", res.Stale)
	}
}

func printKeys(label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	fmt.Printf("  %s (%d): %s\n", label, len(keys), strings.Join(keys, ", "))
}
