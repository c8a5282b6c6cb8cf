// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rag-chat-go/pkg/log"
)

// 超过该长度的请求/响应体只记录前缀
const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// skipBody 判断请求是否为流式或文件上传，这类请求不缓存请求体与响应体。
func skipBody(c *gin.Context) bool {
	path := c.Request.URL.Path
	if strings.HasSuffix(path, "/stream") || strings.HasSuffix(path, "/ws") {
		return true
	}
	return strings.HasPrefix(c.GetHeader("Content-Type"), "multipart/")
}

func truncateBody(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "..."
	}
	return string(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		capture := !skipBody(c)

		var requestBody []byte
		var blw *bodyLogWriter
		if capture {
			if c.Request.Body != nil {
				requestBody, _ = io.ReadAll(c.Request.Body)
			}
			// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			blw = &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
			c.Writer = blw
		}

		c.Next()

		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		}
		if capture {
			fields = append(fields,
				"requestBody", truncateBody(requestBody),
				"responseBody", truncateBody(blw.body.Bytes()),
			)
		}
		log.Infow("HTTP Request Log", fields...)
	}
}
