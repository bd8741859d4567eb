package volcengine

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"strconv"

	"github.com/agent-infra/sandbox-go/internal/log"
	"github.com/agent-infra/sandbox-go/sandbox"
)

// ApplicationStatusDeployed 应用部署完成
const ApplicationStatusDeployed = "deploy_success"

type applicationConfig struct {
	Region       string `json:"region"`
	FunctionName string `json:"functionName"`
	GatewayName  string `json:"gatewayName" validate:"required"`
	Sid          string `json:"sid"`
}

type createApplicationRequest struct {
	Name       string            `json:"Name" validate:"required"`
	Config     applicationConfig `json:"Config"`
	TemplateId string            `json:"TemplateId" validate:"required"`
}

type applicationRequest struct {
	Id string `json:"Id" validate:"required"`
}

// CreateApplication 基于沙箱模板创建并发布应用，返回应用 ID。
// 发布失败只记录日志，可以通过 GetApplicationReadiness 观察部署进度。
func (p *Provider) CreateApplication(ctx context.Context, name, gatewayName string) (string, error) {
	const op = "volcengine.CreateApplication"
	if name == "" {
		return "", &sandbox.Error{Kind: sandbox.KindInvalidScope, Op: op, Message: "name is required", NoSideEffect: true}
	}
	if gatewayName == "" {
		return "", &sandbox.Error{Kind: sandbox.KindInvalidScope, Op: op, Message: "gateway name is required", NoSideEffect: true}
	}
	var ret struct {
		Id string `json:"Id"`
	}
	err := p.faas.call(ctx, "CreateApplication", &createApplicationRequest{
		Name: name,
		Config: applicationConfig{
			Region:       p.faas.region(),
			FunctionName: name + "-function",
			GatewayName:  gatewayName,
			Sid:          strconv.Itoa(1000000 + rand.Intn(9000000)),
		},
		TemplateId: p.templateID,
	}, &ret)
	if err != nil {
		return "", err
	}
	if ret.Id == "" {
		return "", sandbox.Errorf(sandbox.KindUnknown, op, "response has no application Id")
	}

	if err = p.faas.call(ctx, "ReleaseApplication", &applicationRequest{Id: ret.Id}, nil); err != nil {
		log.With(map[string]interface{}{"application_id": ret.Id}).Warn().Err(err).Msg("release application failed")
	}
	return ret.Id, nil
}

// GetApplicationReadiness 查询应用是否部署完成，以及应用对应的函数 ID（可能为空）
func (p *Provider) GetApplicationReadiness(ctx context.Context, id string) (bool, string, error) {
	var ret struct {
		Status        string          `json:"Status"`
		CloudResource json.RawMessage `json:"CloudResource"`
	}
	if err := p.faas.call(ctx, "GetApplication", &applicationRequest{Id: id}, &ret); err != nil {
		return false, "", err
	}
	functionID := cloudResourceFunctionID(id, ret.CloudResource)
	return ret.Status == ApplicationStatusDeployed, functionID, nil
}

// cloudResourceFunctionID 从 CloudResource 中取出函数 ID，CloudResource 可能是对象，也可能是 JSON 字符串
func cloudResourceFunctionID(applicationID string, raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return ""
		}
		raw = json.RawMessage(encoded)
	}
	var resource struct {
		FunctionID string `json:"function_id"`
		Sandbox    *struct {
			FunctionID string `json:"function_id"`
		} `json:"sandbox"`
	}
	if err := json.Unmarshal(raw, &resource); err != nil {
		log.With(map[string]interface{}{"application_id": applicationID}).Warn().Err(err).Msg("decode CloudResource failed")
		return ""
	}
	if resource.FunctionID != "" {
		return resource.FunctionID
	}
	if resource.Sandbox != nil {
		return resource.Sandbox.FunctionID
	}
	return ""
}
