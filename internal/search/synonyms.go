package search

// FundSynonyms maps the way investors phrase questions to the vocabulary of
// disclosure documents. Keys are matched as substrings of the question, so
// longer keys should be listed when a shorter key would be ambiguous.
var FundSynonyms = map[string][]string{
	// Fees
	"管理费":  {"管理费率", "基金管理费", "管理人报酬"},
	"托管费":  {"托管费率", "基金托管费"},
	"销售服务费": {"销售服务费率", "C类份额"},
	"申购费":  {"申购费率", "认购费率"},
	"赎回费":  {"赎回费率"},
	"费率":   {"年费率", "费用"},

	// Parties
	"基金经理": {"投资经理", "拟任基金经理"},
	"管理人":  {"基金管理人", "管理公司"},
	"托管人":  {"基金托管人", "托管银行"},
	"审计":   {"会计师事务所", "审计机构"},

	// Performance and holdings
	"收益":   {"收益率", "净值增长率", "业绩"},
	"净值":   {"基金份额净值", "单位净值"},
	"规模":   {"资产净值", "基金资产净值", "份额总额"},
	"持仓":   {"持有", "投资组合", "前十名"},
	"分红":   {"收益分配", "利润分配"},
	"风险":   {"风险揭示", "风险因素"},
	"业绩基准": {"业绩比较基准"},

	// REITs
	"reits": {"基础设施基金", "基础设施项目"},
	"项目":    {"基础设施项目", "项目公司"},
	"可供分配":  {"可供分配金额", "可供分配现金流"},
	"现金流":   {"经营活动现金流", "可供分配现金流"},
	"出租率":   {"租赁率", "入住率"},

	// Events
	"成立":  {"合同生效", "基金合同生效日"},
	"上市":  {"上市交易", "上市日期"},
	"变更":  {"更换", "调整"},
	"扩募":  {"新购入", "扩募份额"},
	"停牌":  {"暂停交易"},
	"清算":  {"终止", "基金财产清算"},
	"份额":  {"基金份额", "持有人"},
	"投资者": {"持有人", "基金份额持有人"},

	// English phrasing
	"fee":       {"费率", "费用"},
	"manager":   {"基金经理", "管理人"},
	"custodian": {"托管人"},
	"dividend":  {"收益分配", "分红"},
	"nav":       {"基金份额净值"},
}
