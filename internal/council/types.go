package council

// StageKind 阶段类型，闭合枚举：新增类型需要同时扩展执行器的分发逻辑
type StageKind string

const (
	StageKindResponses StageKind = "responses" // 成员独立作答
	StageKindRankings  StageKind = "rankings"  // 匿名互评排名
	StageKindSynthesis StageKind = "synthesis" // 最终综合
)

// ExecutionMode 成员调用方式
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
)

// 成员调用结果状态
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Member 一名议会成员：模型端点 + 人设
type Member struct {
	ID              string `json:"id"`
	Alias           string `json:"alias"`
	ModelID         string `json:"model_id"`
	SystemPrompt    string `json:"system_prompt,omitempty"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
}

// Stage 一个流水线阶段
type Stage struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Kind          StageKind     `json:"kind"`
	ExecutionMode ExecutionMode `json:"execution_mode"`
	Prompt        string        `json:"prompt,omitempty"`
	MemberIDs     []string      `json:"member_ids"`
}

// Snapshot 一次运行捕获的不可变配置快照。
// 运行期间对设置的并发修改不会泄漏进来。
type Snapshot struct {
	Members                  []Member `json:"members"`
	Stages                   []Stage  `json:"stages"`
	ChairmanID               string   `json:"chairman_id"`
	ChairmanLabel            string   `json:"chairman_label"`
	TitleModelID             string   `json:"title_model_id"`
	UseSystemPromptRankings  bool     `json:"use_system_prompt_stage2"`
	UseSystemPromptSynthesis bool     `json:"use_system_prompt_stage3"`
	SpeakerContextLevel      Fidelity `json:"speaker_context_level"`
}

// MemberByID 按 id 查找成员，找不到返回 nil
func (s *Snapshot) MemberByID(id string) *Member {
	for i := range s.Members {
		if s.Members[i].ID == id {
			return &s.Members[i]
		}
	}
	return nil
}

// StageMembers 解析阶段成员列表，保持配置顺序，跳过无法解析的 id
func (s *Snapshot) StageMembers(stage Stage) []Member {
	members := make([]Member, 0, len(stage.MemberIDs))
	for _, id := range stage.MemberIDs {
		if m := s.MemberByID(id); m != nil {
			members = append(members, *m)
		}
	}
	return members
}

// ChairmanMember 解析主席成员，未配置时回落到第一名成员
func (s *Snapshot) ChairmanMember() *Member {
	if m := s.MemberByID(s.ChairmanID); m != nil {
		return m
	}
	if len(s.Members) > 0 {
		return &s.Members[0]
	}
	return nil
}

// MemberResult 单个成员的作答结果
type MemberResult struct {
	Model               string `json:"model"` // 成员别名
	Text                string `json:"response"`
	Status              string `json:"status"` // ok, failed
	Err                 string `json:"error,omitempty"`
	Partial             bool   `json:"partial,omitempty"`
	SystemPromptDropped bool   `json:"system_prompt_dropped,omitempty"`
}

// RankingResult 单个评审成员的排名结果
type RankingResult struct {
	Model       string   `json:"model"`
	RawText     string   `json:"ranking"`
	ParsedOrder []string `json:"parsed_ranking"`
}

// SynthesisResult 最终综合结果
type SynthesisResult struct {
	Model string `json:"model"`
	Text  string `json:"response"`
}

// AggregateRanking 跨评审聚合后的成员排名统计
type AggregateRanking struct {
	Model       string  `json:"model"`
	AverageRank float64 `json:"average_rank"`
	Votes       int     `json:"rankings_count"`
}

// LabelMap 匿名标签("Response A")到成员别名的映射
type LabelMap map[string]string

// StageResult 按 Kind 取值的带标签联合：
// responses 填 Responses，rankings 填 Rankings/LabelToModel/AggregateRankings，
// synthesis 填 Synthesis。
type StageResult struct {
	StageID           string             `json:"id"`
	Name              string             `json:"name"`
	Prompt            string             `json:"prompt,omitempty"`
	ExecutionMode     ExecutionMode      `json:"execution_mode"`
	Kind              StageKind          `json:"kind"`
	Responses         []MemberResult     `json:"responses,omitempty"`
	Rankings          []RankingResult    `json:"rankings,omitempty"`
	Synthesis         *SynthesisResult   `json:"synthesis,omitempty"`
	LabelToModel      LabelMap           `json:"label_to_model,omitempty"`
	AggregateRankings []AggregateRanking `json:"aggregate_rankings,omitempty"`
}

// Metadata 运行级派生数据，每次运行重新计算，不做持久化主数据
type Metadata struct {
	LabelToModel      LabelMap           `json:"label_to_model"`
	AggregateRankings []AggregateRanking `json:"aggregate_rankings"`
}

// RunResult 一次完整运行的产出
type RunResult struct {
	Stages   []StageResult `json:"stages"`
	Metadata Metadata      `json:"metadata"`
}

// FinalSynthesis 按阶段顺序扫描，返回最后一个综合阶段的结果。
// 整个运行的规范答案以此为准。
func (r *RunResult) FinalSynthesis() *SynthesisResult {
	var final *SynthesisResult
	for i := range r.Stages {
		if r.Stages[i].Kind == StageKindSynthesis && r.Stages[i].Synthesis != nil {
			final = r.Stages[i].Synthesis
		}
	}
	return final
}

// EstimateTokens 粗略估算 token 数（约 4 字符一个 token）
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text) / 4
}
