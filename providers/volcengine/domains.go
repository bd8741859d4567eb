package volcengine

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/agent-infra/sandbox-go/internal/cache"
	"github.com/agent-infra/sandbox-go/internal/log"
	"github.com/agent-infra/sandbox-go/sandbox"
)

// instanceQuery 网关按此查询参数把请求路由到具体的沙箱实例
const instanceQuery = "faasInstanceName"

type domainsValue struct {
	Domains      []sandbox.Domain `json:"domains"`
	RefreshAfter time.Time        `json:"refresh_after"`
	ExpiredAt    time.Time        `json:"expired_at"`
}

func (v domainsValue) ShouldRefresh() bool {
	return time.Now().After(v.RefreshAfter)
}

func (v domainsValue) IsValid() bool {
	return time.Now().Before(v.ExpiredAt)
}

type listTriggersRequest struct {
	FunctionId string `json:"FunctionId" validate:"required"`
}

type trigger struct {
	Id             string `json:"Id"`
	Type           string `json:"Type"`
	DetailedConfig string `json:"DetailedConfig"`
}

type listRoutesRequest struct {
	UpstreamId string `json:"UpstreamId" validate:"required"`
	PageSize   int    `json:"PageSize"`
	PageNumber int    `json:"PageNumber"`
}

type route struct {
	MatchRule struct {
		Path struct {
			MatchContent string `json:"MatchContent"`
		} `json:"Path"`
	} `json:"MatchRule"`
	Domains []struct {
		Domain string `json:"Domain"`
		Type   string `json:"Type"`
	} `json:"Domains"`
}

// functionDomains 返回函数 APIG 触发器对应的域名，结果按函数缓存
func (p *Provider) functionDomains(ctx context.Context, functionID string) ([]sandbox.Domain, error) {
	value, result, err := p.domains.Get(ctx, p.endpoint+"/"+functionID, func(ctx context.Context) (domainsValue, error) {
		return p.fetchDomains(ctx, functionID)
	})
	if err != nil {
		return nil, err
	}
	if result == cache.FromStale {
		log.With(map[string]interface{}{"function_id": functionID}).Warn().Msg("use stale apig domains")
	}
	return value.Domains, nil
}

func (p *Provider) fetchDomains(ctx context.Context, functionID string) (domainsValue, error) {
	now := time.Now()
	value := domainsValue{
		Domains:      []sandbox.Domain{},
		RefreshAfter: now.Add(p.domainTTL),
		ExpiredAt:    now.Add(4 * p.domainTTL),
	}
	upstreamID, err := p.apigUpstream(ctx, functionID)
	if err != nil || upstreamID == "" {
		return value, err
	}

	var ret struct {
		Items []route `json:"Items"`
	}
	if err = p.apig.call(ctx, "ListRoutes", &listRoutesRequest{UpstreamId: upstreamID, PageSize: 100, PageNumber: 1}, &ret); err != nil {
		return value, err
	}
	for _, r := range ret.Items {
		prefix := r.MatchRule.Path.MatchContent
		for _, d := range r.Domains {
			if d.Domain == "" {
				continue
			}
			value.Domains = append(value.Domains, sandbox.Domain{URL: d.Domain + prefix, Type: d.Type})
		}
	}
	return value, nil
}

// apigUpstream 返回函数第一个 APIG 触发器的 UpstreamId，没有时返回空字符串
func (p *Provider) apigUpstream(ctx context.Context, functionID string) (string, error) {
	var ret struct {
		Items []trigger `json:"Items"`
	}
	if err := p.faas.call(ctx, "ListTriggers", &listTriggersRequest{FunctionId: functionID}, &ret); err != nil {
		return "", err
	}
	for _, t := range ret.Items {
		if t.Type != "apig" {
			continue
		}
		var config struct {
			UpstreamId string `json:"UpstreamId"`
		}
		detail := t.DetailedConfig
		if detail == "" {
			detail = "{}"
		}
		if err := json.Unmarshal([]byte(detail), &config); err != nil {
			log.With(map[string]interface{}{
				"function_id": functionID,
				"trigger_id":  t.Id,
			}).Warn().Err(err).Msg("skip trigger with malformed DetailedConfig")
			continue
		}
		if config.UpstreamId != "" {
			return config.UpstreamId, nil
		}
	}
	return "", nil
}

// instanceEndpoint 为沙箱实例生成数据面地址，优先使用公网域名
func instanceEndpoint(domains []sandbox.Domain, sandboxID string) *sandbox.Endpoint {
	if len(domains) == 0 {
		return nil
	}
	endpoint := &sandbox.Endpoint{Domains: make([]sandbox.Domain, 0, len(domains))}
	for _, d := range domains {
		endpoint.Domains = append(endpoint.Domains, sandbox.Domain{URL: instanceURL(d.URL, sandboxID), Type: d.Type})
	}
	endpoint.BaseURL = endpoint.Domains[0].URL
	for _, d := range endpoint.Domains {
		if d.Type == sandbox.DomainTypePublic {
			endpoint.BaseURL = d.URL
			break
		}
	}
	return endpoint
}

func instanceURL(domain, sandboxID string) string {
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	sep := "?"
	if strings.Contains(domain, "?") {
		sep = "&"
	}
	return domain + sep + instanceQuery + "=" + url.QueryEscape(sandboxID)
}
