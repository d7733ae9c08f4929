package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lardata/config"
	"lardata/logger"
	"lardata/version"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type otelLogger struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
}

func newOtelLogger(cfg *config.Config) (*otelLogger, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.OtelServiceName),
		semconv.ServiceVersionKey.String(version.Version),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &otelLogger{
		provider: provider,
		logger:   provider.Logger("lardata"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *otelLogger) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

func (o *otelLogger) Emit(recordType string, payload interface{}) {
	if o == nil || o.logger == nil {
		return
	}
	o.logger.Emit(context.Background(), buildLogRecord(recordType, payload))
}

func buildLogRecord(recordType string, payload interface{}) otelLog.Record {
	data := payloadToMap(payload)

	var record otelLog.Record
	now := time.Now()
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("lardata.record")
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("schema_version", SchemaVersion),
	)
	if attrs := semanticAttributes(recordType, data); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}
	if data != nil {
		record.SetBody(toLogValue(data))
	} else if bytes, err := json.Marshal(payload); err == nil {
		record.SetBody(otelLog.StringValue(string(bytes)))
	}
	return record
}

func (o *otelLogger) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case []byte:
		return otelLog.BytesValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		// JSON numbers arrive here; keep whole numbers integral.
		if v == float64(int64(v)) {
			return otelLog.Int64Value(int64(v))
		}
		return otelLog.Float64Value(v)
	case map[string]interface{}:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case map[string]string:
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for k, val := range v {
			kvs = append(kvs, otelLog.String(k, val))
		}
		return otelLog.MapValue(kvs...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	case []interface{}:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.StringValue(fmt.Sprint(v))
	}
}

func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for key, value := range values {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(value)})
	}
	return kvs
}

func semanticAttributes(recordType string, data map[string]interface{}) []otelLog.KeyValue {
	if len(data) == 0 {
		return nil
	}
	switch recordType {
	case "job":
		return jobSemanticAttributes(data)
	case "file":
		return fileSemanticAttributes(data)
	case "summary":
		return summarySemanticAttributes(data)
	default:
		return nil
	}
}

func jobSemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	kvs = appendStringAttr(kvs, "lardata.job.start_time", getStringField(data, "start_time"))
	kvs = appendMetadataAttrs(kvs, "lardata.job.metadata.", data["metadata"])

	host, ok := data["host"].(map[string]interface{})
	if !ok {
		return kvs
	}
	kvs = appendStringAttr(kvs, string(semconv.HostNameKey), getStringField(host, "hostname"))
	kvs = appendStringAttr(kvs, string(semconv.HostArchKey), getStringField(host, "arch"))
	kvs = appendStringAttr(kvs, string(semconv.OSTypeKey), getStringField(host, "os"))
	kvs = appendStringAttr(kvs, string(semconv.OSVersionKey), getStringField(host, "platform_version"))
	if platform := getStringField(host, "platform"); platform != "" {
		desc := strings.TrimSpace(platform + " " + getStringField(host, "platform_version"))
		kvs = append(kvs, otelLog.String(string(semconv.OSDescriptionKey), desc))
	}
	if pid, ok := getInt64Field(host, "pid"); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.ProcessPIDKey), pid))
	}
	return kvs
}

func fileSemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	path := getStringField(data, "path")
	name := getStringField(data, "name")
	if name == "" && path != "" {
		name = filepath.Base(path)
	}
	if path != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), path))
		kvs = append(kvs, otelLog.String(string(semconv.FileDirectoryKey), filepath.Dir(path)))
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FileExtensionKey), ext))
		}
	}
	kvs = appendStringAttr(kvs, string(semconv.FileNameKey), name)
	if size, ok := getInt64Field(data, "size"); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), size))
	}

	kvs = appendStringAttr(kvs, "lardata.file.original_path", getStringField(data, "original_path"))
	kvs = appendStringAttr(kvs, "lardata.file.mime_type", getStringField(data, "mime_type"))
	kvs = appendStringAttr(kvs, "lardata.file.mod_time", getStringField(data, "mod_time"))
	kvs = appendStringAttr(kvs, "lardata.file.birth_time", getStringField(data, "birth_time"))

	if sums, ok := data["checksums"].(map[string]interface{}); ok {
		for algo, value := range sums {
			kvs = appendStringAttr(kvs, "lardata.file.checksum."+algo, fmt.Sprint(value))
		}
	}
	kvs = appendMetadataAttrs(kvs, "lardata.file.metadata.", data["metadata"])
	return kvs
}

func summarySemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	kvs = appendStringAttr(kvs, "lardata.summary.start_time", getStringField(data, "start_time"))
	kvs = appendStringAttr(kvs, "lardata.summary.end_time", getStringField(data, "end_time"))
	for _, key := range []string{"files_tracked", "files_renamed", "files_skipped", "files_written"} {
		if count, ok := getInt64Field(data, key); ok {
			kvs = append(kvs, otelLog.Int64("lardata.summary."+key, count))
		}
	}
	return kvs
}

// appendMetadataAttrs adds one attribute per metadata name. Repeated names
// become a slice value in the order they were recorded.
func appendMetadataAttrs(kvs []otelLog.KeyValue, prefix string, value interface{}) []otelLog.KeyValue {
	items, ok := value.([]interface{})
	if !ok {
		return kvs
	}
	var order []string
	grouped := map[string][]otelLog.Value{}
	for _, item := range items {
		pair, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name := getStringField(pair, "name")
		if name == "" {
			continue
		}
		if _, seen := grouped[name]; !seen {
			order = append(order, name)
		}
		grouped[name] = append(grouped[name], otelLog.StringValue(getStringField(pair, "value")))
	}
	for _, name := range order {
		values := grouped[name]
		if len(values) == 1 {
			kvs = append(kvs, otelLog.KeyValue{Key: prefix + name, Value: values[0]})
			continue
		}
		kvs = append(kvs, otelLog.KeyValue{Key: prefix + name, Value: otelLog.SliceValue(values...)})
	}
	return kvs
}

func payloadToMap(payload interface{}) map[string]interface{} {
	switch v := payload.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return v
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil
		}
		return decoded
	}
}

func getStringField(values map[string]interface{}, key string) string {
	value, ok := values[key]
	if !ok || value == nil {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return fmt.Sprint(value)
}

func getInt64Field(values map[string]interface{}, key string) (int64, bool) {
	value, ok := values[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}
