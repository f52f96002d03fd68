package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumina-pay/internal/config"
	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/logger"
	"github.com/lumina-pay/internal/models"
	"github.com/lumina-pay/internal/payment"
	"github.com/lumina-pay/internal/repository"

	"github.com/shopspring/decimal"
)

// casMaxRetry 乐观锁更新最大重试次数
const casMaxRetry = 5

var (
	ErrSubscriptionConflict = errors.New("subscription update conflict")
	ErrPlanUnresolvable     = errors.New("plan cannot be resolved")
)

// SubscriptionService 订阅对账：档位解析、续费叠加、取消与查询。
type SubscriptionService struct {
	cfg              *config.Config
	subscriptionRepo repository.SubscriptionRepository
}

// NewSubscriptionService 创建订阅服务
func NewSubscriptionService(cfg *config.Config, subscriptionRepo repository.SubscriptionRepository) *SubscriptionService {
	return &SubscriptionService{
		cfg:              cfg,
		subscriptionRepo: subscriptionRepo,
	}
}

// PlanResolution 档位解析结果
type PlanResolution struct {
	Plan       string
	Cycle      string
	ResolvedBy string // metadata / nickname / price_id / amount_heuristic
}

// ResolvePlan 档位解析回退链：
// 显式元数据 → 价格昵称子串 → 已知 price id 映射 → 金额启发式。
func (s *SubscriptionService) ResolvePlan(event *payment.Event) (*PlanResolution, error) {
	cycle := normalizeCycle(event.CycleHint)

	// 1. 显式元数据
	if plan := normalizePlan(event.PlanHint); plan != "" {
		if cycle == "" {
			cycle = cycleFromAmount(event.AmountValue, event.Currency)
		}
		return &PlanResolution{Plan: plan, Cycle: cycle, ResolvedBy: "metadata"}, nil
	}

	// 2. 价格昵称子串
	if plan := planFromNickname(event.NicknameHint); plan != "" {
		if cycle == "" {
			cycle = cycleFromNickname(event.NicknameHint)
		}
		if cycle == "" {
			cycle = cycleFromAmount(event.AmountValue, event.Currency)
		}
		return &PlanResolution{Plan: plan, Cycle: cycle, ResolvedBy: "nickname"}, nil
	}

	// 3. 已知 price id 映射
	if priceID := strings.TrimSpace(event.PriceID); priceID != "" && s.cfg != nil {
		if mapped, ok := s.cfg.Providers.PricePlans[priceID]; ok {
			plan, mappedCycle := splitPricePlanValue(mapped)
			if plan != "" {
				if cycle == "" {
					cycle = mappedCycle
				}
				if cycle == "" {
					cycle = cycleFromAmount(event.AmountValue, event.Currency)
				}
				return &PlanResolution{Plan: plan, Cycle: cycle, ResolvedBy: "price_id"}, nil
			}
		}
	}

	// 4. 金额启发式，解析成功但要留痕告警
	amount, err := decimal.NewFromString(strings.TrimSpace(event.AmountValue))
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: no usable hint", ErrPlanUnresolvable)
	}
	if cycle == "" {
		cycle = cycleFromAmount(event.AmountValue, event.Currency)
	}
	if cycle == "" {
		cycle = constants.BillingCycleMonthly
	}
	plan := constants.PlanPro
	threshold := constants.HeuristicMonthlyEnterpriseMin
	if cycle == constants.BillingCycleYearly {
		threshold = constants.HeuristicYearlyEnterpriseMin
	}
	normalized := normalizeAmountToUSD(amount, event.Currency)
	if normalized.GreaterThanOrEqual(threshold) {
		plan = constants.PlanEnterprise
	}
	logger.Warnw("plan_resolved_by_amount_heuristic",
		"transaction_id", event.TransactionID,
		"method", event.Method,
		"amount", event.AmountValue,
		"currency", event.Currency,
		"plan", plan,
		"cycle", cycle,
	)
	return &PlanResolution{Plan: plan, Cycle: cycle, ResolvedBy: "amount_heuristic"}, nil
}

// ComputeSubscriptionEnd 续费叠加：新到期 = max(未过期的旧到期, now) + 周期天数。
// 旧到期已过则从 now 起算，剩余时长不会被吃掉也不会凭空延长。
func ComputeSubscriptionEnd(existing *time.Time, now time.Time, cycle string) time.Time {
	base := now
	if existing != nil && existing.After(now) {
		base = *existing
	}
	return base.AddDate(0, 0, constants.BillingCycleDays(cycle))
}

// ExplicitSubscriptionEnd 提供方给出本期结束时间时，新到期取
// max(未过期的旧到期, 显式结束)。旧到期已过期的不参与比较。
func ExplicitSubscriptionEnd(existing *time.Time, explicit time.Time, now time.Time) time.Time {
	if existing != nil && existing.After(now) && existing.After(explicit) {
		return *existing
	}
	return explicit
}

// ApplyCompletion 入账后落订阅：乐观锁重试，确保并发回调下叠加不丢。
// periodEnd 非空时按提供方口径定到期，否则按周期天数叠加。
func (s *SubscriptionService) ApplyCompletion(userID, plan, cycle, transactionID string, periodEnd *time.Time, now time.Time) (*models.SubscriptionState, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	plan = normalizePlan(plan)
	if plan == "" || plan == constants.PlanFree {
		return nil, fmt.Errorf("%w: plan %q", ErrPlanUnresolvable, plan)
	}
	cycle = normalizeCycle(cycle)
	if cycle == "" {
		cycle = constants.BillingCycleMonthly
	}

	for attempt := 0; attempt < casMaxRetry; attempt++ {
		state, err := s.subscriptionRepo.GetByUserID(userID)
		if err != nil {
			return nil, err
		}
		if state == nil {
			endsAt := ComputeSubscriptionEnd(nil, now, cycle)
			if periodEnd != nil {
				endsAt = *periodEnd
			}
			state = &models.SubscriptionState{
				UserID:            userID,
				Plan:              plan,
				BillingCycle:      cycle,
				Status:            constants.SubscriptionStatusActive,
				EndsAt:            &endsAt,
				LastTransactionID: transactionID,
			}
			if err := s.subscriptionRepo.Create(state); err != nil {
				// 唯一索引冲突说明并发建了同一用户，重读走更新路径
				logger.Debugw("subscription_create_conflict", "user_id", userID, "error", err)
				continue
			}
			return state, nil
		}

		endsAt := ComputeSubscriptionEnd(state.EndsAt, now, cycle)
		if periodEnd != nil {
			endsAt = ExplicitSubscriptionEnd(state.EndsAt, *periodEnd, now)
		}
		state.Plan = resolveUpgradedPlan(state.EffectivePlan(now), plan)
		state.BillingCycle = cycle
		state.Status = constants.SubscriptionStatusActive
		state.EndsAt = &endsAt
		state.LastTransactionID = transactionID
		state.UpdatedAt = now

		err = s.subscriptionRepo.UpdateWithVersion(state)
		if err == nil {
			return state, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		return nil, err
	}
	return nil, ErrSubscriptionConflict
}

// ApplyCancellation 取消续费：状态置 cancelled，保留已付周期的到期时间。
func (s *SubscriptionService) ApplyCancellation(userID, transactionID string, now time.Time) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	for attempt := 0; attempt < casMaxRetry; attempt++ {
		state, err := s.subscriptionRepo.GetByUserID(userID)
		if err != nil {
			return err
		}
		if state == nil {
			return nil
		}
		if state.Status == constants.SubscriptionStatusCancelled {
			return nil
		}
		state.Status = constants.SubscriptionStatusCancelled
		state.LastTransactionID = transactionID
		state.UpdatedAt = now

		err = s.subscriptionRepo.UpdateWithVersion(state)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrSubscriptionConflict
}

// GetEffective 查询生效中的订阅视图（惰性过期，不写库）。
func (s *SubscriptionService) GetEffective(userID string, now time.Time) (*models.SubscriptionState, string, error) {
	state, err := s.subscriptionRepo.GetByUserID(userID)
	if err != nil {
		return nil, "", err
	}
	if state == nil {
		return nil, constants.PlanFree, nil
	}
	return state, state.EffectivePlan(now), nil
}

// SweepExpired 把已过到期时间仍标 active 的订阅批量置为 expired，
// 返回被处理的用户，调用方负责触发镜像刷新。读路径本身是惰性过期的，
// 这里只是让库表状态与镜像追上事实。
func (s *SubscriptionService) SweepExpired(now time.Time, limit int) ([]string, error) {
	states, err := s.subscriptionRepo.ListExpiringBefore(now, limit)
	if err != nil {
		return nil, err
	}
	swept := make([]string, 0, len(states))
	for i := range states {
		state := &states[i]
		state.Status = constants.SubscriptionStatusExpired
		state.UpdatedAt = now
		if err := s.subscriptionRepo.UpdateWithVersion(state); err != nil {
			// 并发续费抢先更新了版本号，这条留到下轮再看
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return swept, err
		}
		swept = append(swept, state.UserID)
	}
	return swept, nil
}

// resolveUpgradedPlan 续费叠加时档位取高不取低，付费升级立即生效。
func resolveUpgradedPlan(current, incoming string) string {
	rank := map[string]int{
		constants.PlanFree:       0,
		constants.PlanPro:        1,
		constants.PlanEnterprise: 2,
	}
	if rank[incoming] >= rank[current] {
		return incoming
	}
	return current
}

func normalizePlan(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case constants.PlanPro:
		return constants.PlanPro
	case constants.PlanEnterprise:
		return constants.PlanEnterprise
	case constants.PlanFree:
		return constants.PlanFree
	default:
		return ""
	}
}

func normalizeCycle(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case constants.BillingCycleMonthly, "month", "monthly_plan":
		return constants.BillingCycleMonthly
	case constants.BillingCycleYearly, "year", "annual", "annually":
		return constants.BillingCycleYearly
	default:
		return ""
	}
}

// planFromNickname 价格昵称子串匹配，大小写不敏感。
func planFromNickname(nickname string) string {
	lowered := strings.ToLower(strings.TrimSpace(nickname))
	if lowered == "" {
		return ""
	}
	if strings.Contains(lowered, "enterprise") || strings.Contains(lowered, "企业") {
		return constants.PlanEnterprise
	}
	if strings.Contains(lowered, "pro") || strings.Contains(lowered, "专业") {
		return constants.PlanPro
	}
	return ""
}

func cycleFromNickname(nickname string) string {
	lowered := strings.ToLower(strings.TrimSpace(nickname))
	switch {
	case strings.Contains(lowered, "year"), strings.Contains(lowered, "annual"), strings.Contains(lowered, "年"):
		return constants.BillingCycleYearly
	case strings.Contains(lowered, "month"), strings.Contains(lowered, "月"):
		return constants.BillingCycleMonthly
	default:
		return ""
	}
}

// cycleFromAmount 金额推断周期：达到年付阈值按年付处理。
func cycleFromAmount(amountRaw, currency string) string {
	amount, err := decimal.NewFromString(strings.TrimSpace(amountRaw))
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return ""
	}
	if normalizeAmountToUSD(amount, currency).GreaterThanOrEqual(constants.HeuristicYearlyEnterpriseMin) {
		return constants.BillingCycleYearly
	}
	return constants.BillingCycleMonthly
}

// normalizeAmountToUSD 人民币金额粗略折算后再套用阈值。
func normalizeAmountToUSD(amount decimal.Decimal, currency string) decimal.Decimal {
	if strings.EqualFold(strings.TrimSpace(currency), constants.CurrencyCNY) {
		return amount.Div(decimal.NewFromInt(7))
	}
	return amount
}

// splitPricePlanValue 解析 price_plans 配置值，支持 "pro" 或 "pro:yearly"。
func splitPricePlanValue(raw string) (plan, cycle string) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	plan = normalizePlan(parts[0])
	if len(parts) > 1 {
		cycle = normalizeCycle(parts[1])
	}
	return plan, cycle
}
