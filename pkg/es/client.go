// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"gym-coach-go/internal/config"
	"gym-coach-go/pkg/log"
)

// NewClient 创建 Elasticsearch 客户端，多个地址以逗号分隔。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	var addrs []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addrs,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// VectorIndexMapping 返回向量集合的索引映射，向量字段使用 cosine 相似度。
func VectorIndexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"collection": { "type": "keyword" },
				"user_id": { "type": "long" },
				"text": { "type": "text" },
				"embedding": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"muscle_group": { "type": "keyword" },
				"category": { "type": "keyword" },
				"workout_date": { "type": "date" },
				"total_volume": { "type": "double" },
				"completed_sets": { "type": "integer" },
				"title": { "type": "text" },
				"source": { "type": "keyword" },
				"created_at": { "type": "date" },
				"updated_at": { "type": "date" }
			}
		}
	}`, dims)
}

// EnsureIndex 检查索引是否存在，如果不存在则使用给定映射创建。
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName, mapping string) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// BulkItem 是一次批量写入中的单个操作。Doc 为 nil 时表示删除。
type BulkItem struct {
	ID  string
	Doc interface{}
}

// Bulk 批量写入或删除文档，并立即刷新使其可检索。
func Bulk(ctx context.Context, client *elasticsearch.Client, indexName string, items []BulkItem) error {
	if len(items) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		action := "index"
		if it.Doc == nil {
			action = "delete"
		}
		meta := map[string]map[string]string{action: {"_index": indexName, "_id": it.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if it.Doc != nil {
			if err := enc.Encode(it.Doc); err != nil {
				return err
			}
		}
	}

	req := esapi.BulkRequest{
		Index:   indexName,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("批量写入 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("bulk request failed: %s", res.Status())
	}

	var out struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	for _, item := range out.Items {
		for action, r := range item {
			// 删除不存在的文档不算失败
			if action == "delete" && r.Status == http.StatusNotFound {
				continue
			}
			if r.Error != nil {
				return fmt.Errorf("bulk %s %s failed: %s: %s", action, r.ID, r.Error.Type, r.Error.Reason)
			}
		}
	}
	return nil
}

// Search 执行查询并把响应体解码到 out。
func Search(ctx context.Context, client *elasticsearch.Client, indexName string, query interface{}, out interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("failed to encode es query: %w", err)
	}
	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(indexName),
		client.Search.WithBody(&buf),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		// 索引尚未创建，视为空结果
		return json.Unmarshal([]byte(`{"hits":{"hits":[]}}`), out)
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode es response: %w", err)
	}
	return nil
}

// Count 返回索引中的文档数，索引不存在时为 0。
func Count(ctx context.Context, client *elasticsearch.Client, indexName string) (int, error) {
	res, err := client.Count(client.Count.WithContext(ctx), client.Count.WithIndex(indexName))
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("count %s: %s", indexName, res.Status())
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Count, nil
}
