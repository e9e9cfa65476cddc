package httpclient

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// Options 传输层参数
type Options struct {
	Proxy   string        // 代理地址，空表示直连
	Timeout time.Duration // 单次请求超时
}

// NewHTTPClient 通用HTTP客户端构建方法（支持代理、超时、自动解压）
func NewHTTPClient(opts Options, logger *logrus.Logger) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     30 * time.Second,
		DisableCompression:  true, // 由 compressedTransport 处理
		TLSHandshakeTimeout: 10 * time.Second,
	}

	// 配置代理
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			logger.WithError(err).WithField("proxy", opts.Proxy).Warn("代理地址解析失败，将不使用代理")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
			logger.WithField("proxy", opts.Proxy).Info("HTTP客户端已配置代理")
		}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &compressedTransport{transport: transport, logger: logger},
	}
}

type compressedTransport struct {
	transport http.RoundTripper
	logger    *logrus.Logger
}

func (c *compressedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.WithError(err).Warn("gzip解压失败，返回原始响应")
			return resp, nil
		}
		resp.Body = &gzipReadCloser{Reader: gzReader, closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.ContentLength = -1
	}
	return resp, nil
}

// gzipReadCloser 关闭时同时关闭解压 reader 与原始响应体
type gzipReadCloser struct {
	*gzip.Reader
	closer io.ReadCloser
}

func (g *gzipReadCloser) Close() error {
	if err := g.Reader.Close(); err != nil {
		g.closer.Close()
		return err
	}
	return g.closer.Close()
}
