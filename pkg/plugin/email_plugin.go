package plugin

import (
	"crypto/tls"
	"fmt"
	"html"
	"log"
	"net/smtp"
	"strings"

	"github.com/LENAX/dagflow/pkg/core/pipeline"
)

// EmailPlugin 邮件告警插件（对外导出）
// 在Run失败等事件触发时向运维邮箱发送HTML格式的运行报告
type EmailPlugin struct {
	name     string
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       []string
	enabled  bool
}

// NewEmailPlugin 创建邮件告警插件（对外导出）
func NewEmailPlugin() Plugin {
	return &EmailPlugin{
		name:    "email",
		enabled: false,
	}
}

// Name 插件名称（实现Plugin接口）
func (e *EmailPlugin) Name() string {
	return e.name
}

// Init 初始化插件（实现Plugin接口）
func (e *EmailPlugin) Init(params map[string]string) error {
	// 读取SMTP配置
	e.smtpHost = params["smtp_host"]
	if e.smtpHost == "" {
		return fmt.Errorf("smtp_host参数不能为空")
	}

	// SMTP端口（默认25）
	e.smtpPort = 25
	if portStr := params["smtp_port"]; portStr != "" {
		if _, err := fmt.Sscanf(portStr, "%d", &e.smtpPort); err != nil {
			return fmt.Errorf("smtp_port参数格式错误: %w", err)
		}
	}

	// 用户名和密码（可选，用于认证）
	e.username = params["username"]
	e.password = params["password"]

	// 发件人地址
	e.from = params["from"]
	if e.from == "" {
		return fmt.Errorf("from参数不能为空")
	}

	// 收件人地址（多个用逗号分隔）
	toStr := params["to"]
	if toStr == "" {
		return fmt.Errorf("to参数不能为空")
	}
	e.to = strings.Split(toStr, ",")
	for i := range e.to {
		e.to[i] = strings.TrimSpace(e.to[i])
	}

	e.enabled = true
	log.Printf("✅ [EmailPlugin] 初始化完成: SMTP=%s:%d, From=%s, To=%v", e.smtpHost, e.smtpPort, e.from, e.to)
	return nil
}

// Execute 执行邮件发送（实现Plugin接口）
func (e *EmailPlugin) Execute(data interface{}) error {
	if !e.enabled {
		return fmt.Errorf("邮件插件未初始化")
	}

	pluginData, ok := data.(PluginData)
	if !ok {
		return fmt.Errorf("插件数据类型错误")
	}

	// 构建邮件内容
	subject := e.BuildSubject(pluginData)
	body := e.BuildBody(pluginData)

	// 发送邮件
	if err := e.sendEmail(subject, body); err != nil {
		log.Printf("❌ [EmailPlugin] 发送邮件失败: %v", err)
		return err
	}

	log.Printf("✅ [EmailPlugin] 邮件发送成功: Event=%s, Subject=%s", pluginData.Event, subject)
	return nil
}

// BuildSubject 构建邮件主题（对外导出，便于预览和测试）
func (e *EmailPlugin) BuildSubject(data PluginData) string {
	switch data.Event {
	case EventRunStarted:
		return fmt.Sprintf("[Run启动] %s - %s", data.PipelineName, data.RunID)
	case EventRunSucceeded:
		return fmt.Sprintf("[Run成功] %s - %s", data.PipelineName, data.RunID)
	case EventRunFailed:
		return fmt.Sprintf("[Run失败] %s - %s", data.PipelineName, data.RunID)
	case EventNodeFailed:
		return fmt.Sprintf("[节点失败] %s - %s", data.PipelineName, data.NodeName)
	case EventNodeRetrying:
		return fmt.Sprintf("[节点重试] %s - %s", data.PipelineName, data.NodeName)
	case EventGateFailed:
		return fmt.Sprintf("[门禁未通过] %s - %s", data.PipelineName, data.NodeName)
	default:
		return fmt.Sprintf("[系统通知] %s", data.Event)
	}
}

// BuildBody 构建HTML邮件正文（对外导出，便于预览和测试）
// 如果Data中携带了Run报告，正文会附带节点明细表
func (e *EmailPlugin) BuildBody(data PluginData) string {
	var body strings.Builder
	body.WriteString("<html><body>")
	body.WriteString(fmt.Sprintf("<h2>流水线运行通知: %s</h2>", html.EscapeString(data.PipelineName)))

	body.WriteString(`<table id="run-info" border="1" cellpadding="4" cellspacing="0">`)
	writeRow := func(key, value string) {
		if value == "" {
			return
		}
		body.WriteString(fmt.Sprintf("<tr><td><b>%s</b></td><td>%s</td></tr>",
			html.EscapeString(key), html.EscapeString(value)))
	}
	writeRow("事件类型", string(data.Event))
	writeRow("流水线ID", data.PipelineID)
	writeRow("Run ID", data.RunID)
	writeRow("节点", data.NodeName)
	writeRow("状态", data.State)
	writeRow("原因", data.Reason)
	if summary, ok := data.Data["summary"].(string); ok {
		writeRow("执行概要", summary)
	}
	body.WriteString("</table>")

	// Run报告：附带节点明细表
	if report, ok := data.Data["report"].(*pipeline.RunReport); ok && report != nil {
		body.WriteString("<h3>节点明细</h3>")
		body.WriteString(`<table id="node-detail" border="1" cellpadding="4" cellspacing="0">`)
		body.WriteString("<tr><th>节点ID</th><th>名称</th><th>状态</th><th>尝试次数</th><th>原因</th></tr>")
		for _, node := range report.Nodes {
			body.WriteString(fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td></tr>",
				html.EscapeString(node.NodeID),
				html.EscapeString(node.NodeName),
				html.EscapeString(string(node.State)),
				node.Attempts,
				html.EscapeString(node.Reason)))
		}
		body.WriteString("</table>")
	}

	body.WriteString("</body></html>")
	return body.String()
}

// sendEmail 发送邮件
func (e *EmailPlugin) sendEmail(subject, body string) error {
	// 构建邮件消息
	message := e.buildMessage(subject, body)

	// SMTP服务器地址
	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)

	// 如果配置了用户名和密码，使用认证
	if e.username != "" && e.password != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.smtpHost)

		// 对于TLS，需要先建立TLS连接
		if e.smtpPort == 465 {
			return e.sendEmailTLS(addr, auth, message)
		}

		return smtp.SendMail(addr, auth, e.from, e.to, []byte(message))
	}

	// 无认证发送（不推荐，仅用于测试）
	return smtp.SendMail(addr, nil, e.from, e.to, []byte(message))
}

// sendEmailTLS 通过TLS发送邮件（用于465端口）
func (e *EmailPlugin) sendEmailTLS(addr string, auth smtp.Auth, message string) error {
	// 建立TLS连接
	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: e.smtpHost,
	})
	if err != nil {
		return fmt.Errorf("TLS连接失败: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	// 认证
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP认证失败: %w", err)
	}

	// 设置发件人
	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}

	// 设置收件人
	for _, to := range e.to {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("设置收件人失败: %w", err)
		}
	}

	// 发送邮件内容
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取数据写入器失败: %w", err)
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("关闭数据写入器失败: %w", err)
	}

	return client.Quit()
}

// buildMessage 构建邮件消息
func (e *EmailPlugin) buildMessage(subject, body string) string {
	var message strings.Builder
	message.WriteString(fmt.Sprintf("From: %s\r\n", e.from))
	message.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(e.to, ", ")))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	message.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}
