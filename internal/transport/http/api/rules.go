package apihttp

import (
	"time"

	"tradegate/internal/gateway/notifier"
	"tradegate/internal/riskgate"
	"tradegate/internal/store/gormstore"

	"github.com/gin-gonic/gin"
)

type ruleCheck struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func bindRules(c *gin.Context) (riskgate.RuleConfig, bool) {
	var cfg riskgate.RuleConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid body: %v", err)
		return cfg, false
	}
	return cfg, true
}

// handleValidateRules 总是返回 200，校验结果放在 data 中。
func (r *Router) handleValidateRules(c *gin.Context) {
	cfg, bound := bindRules(c)
	if !bound {
		return
	}
	out := ruleCheck{Valid: true, Errors: []string{}, Warnings: cfg.Warnings()}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	if err := cfg.Validate(); err != nil {
		out.Valid = false
		out.Errors = problemsOf(err)
	}
	ok(c, out)
}

func (r *Router) handlePublishRules(c *gin.Context) {
	cfg, bound := bindRules(c)
	if !bound {
		return
	}
	if err := cfg.Validate(); err != nil {
		fail(c, err)
		return
	}
	published := cfg
	if r.deps.Rules != nil {
		var err error
		published, err = r.deps.Rules.PublishRuleConfig(c.Request.Context(), cfg)
		if err != nil {
			fail(c, err)
			return
		}
	} else {
		published.Version = r.deps.Gate.Rules().Version + 1
	}
	r.deps.Gate.SetRules(published)
	apiLog.Infof("rules v%d published", published.Version)
	ok(c, gin.H{"rules": published, "warnings": cfg.Warnings()})
}

func (r *Router) handleActiveRules(c *gin.Context) {
	ok(c, r.deps.Gate.Rules())
}

func (r *Router) handleRuleHistory(c *gin.Context) {
	if r.deps.Rules == nil {
		ok(c, []gormstore.RuleConfigRecord{})
		return
	}
	list, err := r.deps.Rules.RuleConfigHistory(c.Request.Context(), queryLimit(c, 20))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

type killSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

func (r *Router) handleKillSwitch(c *gin.Context) {
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	if req.Enabled == nil {
		badRequest(c, "enabled is required")
		return
	}
	rules := r.deps.Gate.SetKillSwitch(*req.Enabled)
	apiLog.Warnf("killswitch set to %t", *req.Enabled)
	if r.deps.Notifier != nil {
		msg := notifier.KillSwitchMessage(*req.Enabled, time.Now())
		if err := r.deps.Notifier.SendText(c.Request.Context(), msg.Markdown()); err != nil {
			apiLog.Warnf("killswitch notice failed: %v", err)
		}
	}
	ok(c, rules)
}

func (r *Router) handleRiskState(c *gin.Context) {
	ok(c, r.deps.Gate.State().Summary())
}
