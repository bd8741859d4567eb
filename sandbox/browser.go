package sandbox

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Browser 沙箱内浏览器控制。SDK 只提供 CDP 地址，不负责驱动页面。
type Browser struct {
	session *Session
}

// Viewport 浏览器视口大小
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BrowserInfo 浏览器信息
type BrowserInfo struct {
	// CDPURL Chrome DevTools Protocol 地址，可直接交给 CDP 客户端使用
	CDPURL    string   `json:"cdp_url"`
	VNCURL    string   `json:"vnc_url,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
	Viewport  Viewport `json:"viewport"`
}

// GetInfo 查询浏览器信息，相对地址会被解析为基于会话地址的绝对地址。
func (b *Browser) GetInfo(ctx context.Context) (*BrowserInfo, error) {
	const op = "browser.info"
	var info BrowserInfo
	if err := b.session.invoke(ctx, call{op: op, class: routeBrowser, method: http.MethodGet, path: "/v1/browser/info"}, &info); err != nil {
		return nil, err
	}
	if info.CDPURL == "" {
		return nil, &Error{Kind: KindSandboxUnreachable, Op: op, Message: "sandbox did not report a cdp url"}
	}
	info.CDPURL = b.resolve(info.CDPURL, true)
	if info.VNCURL != "" {
		info.VNCURL = b.resolve(info.VNCURL, false)
	}
	return &info, nil
}

// resolve 将相对地址解析为绝对地址，websocket 为 true 时使用 ws/wss 协议
func (b *Browser) resolve(raw string, websocket bool) string {
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	base := *b.session.base
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	resolved := base.ResolveReference(ref)
	if websocket {
		switch resolved.Scheme {
		case "http":
			resolved.Scheme = "ws"
		case "https":
			resolved.Scheme = "wss"
		}
	}
	query := resolved.Query()
	for key, values := range b.session.query {
		if _, ok := query[key]; !ok {
			query[key] = values
		}
	}
	resolved.RawQuery = query.Encode()
	return resolved.String()
}
