package volcengine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/agent-infra/sandbox-go/backoff"
)

const (
	testAccessKey  = "AKLTtest"
	testSecretKey  = "secret"
	testFunctionID = "fn-1"
	testUpstreamID = "ups-1"
	testDomain     = "sd-1.apigateway-cn-beijing.volceapi.com"
)

type fakeSandbox struct {
	id      string
	status  string
	polls   int
	created time.Time
}

type fakeFault struct {
	status int
	code   string
	count  int
}

// fakeOpenAPI 内存中的 VEFAAS / APIG OpenAPI
type fakeOpenAPI struct {
	*httptest.Server

	mu           sync.Mutex
	functions    map[string]bool
	sandboxes    map[string]*fakeSandbox
	order        []string
	faults       map[string]*fakeFault
	calls        map[string]int
	auth         []string
	pageCap      int
	triggers     []trigger
	applications map[string]string
	cloudRes     interface{}
}

func newFakeOpenAPI(t *testing.T) *fakeOpenAPI {
	f := &fakeOpenAPI{
		functions:    map[string]bool{testFunctionID: true},
		sandboxes:    make(map[string]*fakeSandbox),
		faults:       make(map[string]*fakeFault),
		calls:        make(map[string]int),
		pageCap:      100,
		applications: make(map[string]string),
		triggers: []trigger{
			{Id: "tr-timer", Type: "timer", DetailedConfig: `{"Crontab":"* * * * *"}`},
			{Id: "tr-apig", Type: "apig", DetailedConfig: `{"UpstreamId":"` + testUpstreamID + `"}`},
		},
	}
	router := mux.NewRouter()
	router.Methods(http.MethodPost).Path("/").Queries("Action", "{action}", "Version", "{version}").HandlerFunc(f.handle)
	f.Server = httptest.NewServer(router)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOpenAPI) config() *Config {
	return &Config{
		AccessKey:           testAccessKey,
		SecretKey:           testSecretKey,
		Host:                strings.TrimPrefix(f.URL, "http://"),
		UseInsecureProtocol: true,
		Retry:               &RetryConfig{Backoff: backoff.NewFixedBackoff(time.Millisecond)},
	}
}

func (f *fakeOpenAPI) fail(action string, status int, code string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[action] = &fakeFault{status: status, code: code, count: count}
}

func (f *fakeOpenAPI) callCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[action]
}

func (f *fakeOpenAPI) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sandboxes[id].status = status
}

// purge 模拟后端回收实例，之后该 id 不再被识别
func (f *fakeOpenAPI) purge(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sandboxes, id)
	for i, existing := range f.order {
		if existing == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *fakeOpenAPI) setPageCap(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCap = n
}

func (f *fakeOpenAPI) setTriggers(triggers ...trigger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = triggers
}

func writeResult(w http.ResponseWriter, action string, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ResponseMetadata": map[string]interface{}{"RequestId": "req-" + action, "Action": action},
		"Result":           result,
	})
}

func writeError(w http.ResponseWriter, action string, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ResponseMetadata": map[string]interface{}{
			"RequestId": "req-" + action,
			"Action":    action,
			"Error":     map[string]string{"Code": code, "Message": message},
		},
	})
}

func (f *fakeOpenAPI) handle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	action, version := vars["action"], vars["version"]

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[action]++
	authorization := r.Header.Get("Authorization")
	f.auth = append(f.auth, authorization)

	service, wantVersion := serviceFaaS, versionFaaS
	if action == "ListRoutes" {
		service, wantVersion = serviceAPIG, versionAPIG
	}
	if !strings.HasPrefix(authorization, "HMAC-SHA256 Credential="+testAccessKey+"/") ||
		!strings.Contains(authorization, "/cn-beijing/"+service+"/request") ||
		r.Header.Get("X-Date") == "" || r.Header.Get("X-Content-Sha256") == "" {
		writeError(w, action, http.StatusUnauthorized, "SignatureDoesNotMatch", "bad signature")
		return
	}
	if version != wantVersion {
		writeError(w, action, http.StatusBadRequest, "InvalidVersion", "unexpected version "+version)
		return
	}
	if fault := f.faults[action]; fault != nil && fault.count > 0 {
		fault.count--
		writeError(w, action, fault.status, fault.code, "injected")
		return
	}

	var body struct {
		FunctionId string `json:"FunctionId"`
		SandboxId  string `json:"SandboxId"`
		PageNumber int    `json:"PageNumber"`
		PageSize   int    `json:"PageSize"`
		UpstreamId string `json:"UpstreamId"`
		Timeout    int    `json:"Timeout"`
		Name       string `json:"Name"`
		Id         string `json:"Id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, action, http.StatusBadRequest, "InvalidParameter", err.Error())
		return
	}

	switch action {
	case "CreateSandbox":
		if !f.functions[body.FunctionId] {
			writeError(w, action, http.StatusNotFound, "FunctionNotFound", "function "+body.FunctionId+" not found")
			return
		}
		sb := &fakeSandbox{id: "sbx-" + uuid.NewString(), status: "Pending", created: time.Now().UTC()}
		f.sandboxes[sb.id] = sb
		f.order = append(f.order, sb.id)
		writeResult(w, action, map[string]string{"SandboxId": sb.id})
	case "DescribeSandbox":
		sb, ok := f.sandboxes[body.SandboxId]
		if !ok {
			writeError(w, action, http.StatusNotFound, "InvalidSandbox.NotFound", "sandbox not found")
			return
		}
		if sb.status == "Pending" {
			if sb.polls++; sb.polls > 1 {
				sb.status = "Ready"
			}
		}
		writeResult(w, action, f.info(sb))
	case "KillSandbox":
		sb, ok := f.sandboxes[body.SandboxId]
		switch {
		case !ok:
			writeError(w, action, http.StatusNotFound, "InvalidSandbox.NotFound", "sandbox not found")
		case sb.status == "Terminated":
			writeError(w, action, http.StatusBadRequest, "InvalidSandbox.Terminated", "sandbox already terminated")
		default:
			sb.status = "Terminated"
			writeResult(w, action, map[string]string{})
		}
	case "ListSandboxes":
		size := body.PageSize
		if size > f.pageCap {
			size = f.pageCap
		}
		var live []interface{}
		for _, id := range f.order {
			if sb := f.sandboxes[id]; sb.status != "Terminated" {
				live = append(live, f.info(sb))
			}
		}
		start := (body.PageNumber - 1) * size
		end := start + size
		if start > len(live) {
			start = len(live)
		}
		if end > len(live) {
			end = len(live)
		}
		page := live[start:end]
		if page == nil {
			page = []interface{}{}
		}
		writeResult(w, action, map[string]interface{}{"Sandboxes": page, "Total": len(live)})
	case "ListTriggers":
		writeResult(w, action, map[string]interface{}{"Items": f.triggers})
	case "ListRoutes":
		if body.UpstreamId != testUpstreamID {
			writeResult(w, action, map[string]interface{}{"Items": []interface{}{}})
			return
		}
		writeResult(w, action, map[string]interface{}{"Items": []interface{}{
			map[string]interface{}{
				"MatchRule": map[string]interface{}{"Path": map[string]string{"MatchType": "Prefix", "MatchContent": "/sandbox"}},
				"Domains": []map[string]string{
					{"Domain": "private.example.internal", "Type": "private"},
					{"Domain": testDomain, "Type": "public"},
				},
			},
		}})
	case "CreateApplication":
		id := fmt.Sprintf("app-%d", len(f.applications)+1)
		f.applications[id] = "deploying"
		writeResult(w, action, map[string]string{"Id": id})
	case "ReleaseApplication":
		if _, ok := f.applications[body.Id]; !ok {
			writeError(w, action, http.StatusNotFound, "ApplicationNotFound", "no such application")
			return
		}
		writeResult(w, action, map[string]string{})
	case "GetApplication":
		status, ok := f.applications[body.Id]
		if !ok {
			writeError(w, action, http.StatusNotFound, "ApplicationNotFound", "no such application")
			return
		}
		writeResult(w, action, map[string]interface{}{"Status": status, "CloudResource": f.cloudRes})
	default:
		writeError(w, action, http.StatusBadRequest, "InvalidAction", "unknown action "+action)
	}
}

func (f *fakeOpenAPI) info(sb *fakeSandbox) map[string]interface{} {
	return map[string]interface{}{
		"Id":           sb.id,
		"FunctionId":   testFunctionID,
		"Status":       sb.status,
		"CreatedAt":    sb.created.Format(time.RFC3339),
		"ExpireAt":     sb.created.Add(30 * time.Minute).Format(time.RFC3339),
		"InstanceType": "sandbox",
	}
}
