package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"tradegate/internal/pkg/apperr"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const strategySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "conditions"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "enabled": {"type": "boolean"},
    "symbols": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "conditions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["indicator", "operator", "value", "timeframe"],
        "properties": {
          "id": {"type": "string"},
          "indicator": {"enum": ["rsi", "ema_short", "ema_long", "atr", "macd", "macd_signal", "macd_histogram"]},
          "operator": {"enum": ["greater_than", "less_than", "equals", "crosses_above", "crosses_below"]},
          "value": {"type": ["string", "number"]},
          "timeframe": {"enum": ["1m", "3m", "5m", "10m", "15m", "1h", "4h"]}
        }
      }
    },
    "stopLoss": {"$ref": "#/definitions/stop"},
    "takeProfit": {"$ref": "#/definitions/stop"},
    "riskManagement": {
      "type": "object",
      "properties": {
        "maxDailyDrawdown": {"type": "number", "minimum": 0},
        "maxConcurrentSignals": {"type": "integer", "minimum": 0},
        "rrMin": {"type": "number", "minimum": 0},
        "cooldownSeconds": {"type": "integer", "minimum": 0},
        "cooldownCandles": {"type": "integer", "minimum": 0},
        "killSwitch": {"type": "boolean"},
        "maxSignalsPerDay": {"type": "integer", "minimum": 0},
        "precedence": {"type": "array", "items": {"enum": ["1m", "3m", "5m", "10m", "15m", "1h", "4h"]}}
      }
    }
  },
  "definitions": {
    "stop": {
      "type": "object",
      "required": ["mode", "value"],
      "properties": {
        "mode": {"enum": ["percent", "absolute", "atrMultiple"]},
        "value": {"type": "number", "minimum": 0}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("strategy.json", strings.NewReader(strategySchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("strategy.json")
	})
	return schemaCompiled, schemaErr
}

// DecodeStrategyJSON 先用 JSON Schema 校验请求体，再解码为 StrategyConfig。
// 条件中的数值型 value 会被转成字符串。
func DecodeStrategyJSON(raw []byte) (StrategyConfig, error) {
	schema, err := compiledSchema()
	if err != nil {
		return StrategyConfig{}, fmt.Errorf("compile strategy schema: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return StrategyConfig{}, apperr.Validation("invalid json: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return StrategyConfig{}, apperr.Validation("%v", err)
	}
	normalizeConditionValues(doc)
	normalized, err := json.Marshal(doc)
	if err != nil {
		return StrategyConfig{}, err
	}
	var cfg StrategyConfig
	if err := json.Unmarshal(normalized, &cfg); err != nil {
		return StrategyConfig{}, apperr.Validation("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return StrategyConfig{}, err
	}
	return cfg, nil
}

func normalizeConditionValues(doc any) {
	root, ok := doc.(map[string]any)
	if !ok {
		return
	}
	conds, ok := root["conditions"].([]any)
	if !ok {
		return
	}
	for _, item := range conds {
		cond, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if num, ok := cond["value"].(json.Number); ok {
			cond["value"] = num.String()
		}
	}
}
