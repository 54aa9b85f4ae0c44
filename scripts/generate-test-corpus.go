//go:build ignore

// Package main generates a synthetic fund disclosure corpus for benchmarking
// ingestion and for 'fundrag eval'.
// Usage: go run scripts/generate-test-corpus.go -funds 200 -output testdata/bench
//
// Every fund gets a prospectus and a manager-change announcement. The
// output directory holds documents/ with a documents.yaml manifest, and
// suite.yaml with one fee question and one manager question per fund.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	numFunds  = flag.Int("funds", 200, "Number of funds to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

const prospectusTemplate = `# %s招募说明书

# 第一节 基金概况

基金名称：%s。基金代码：%s。基金类型：%s。

# 第二节 基金费用

本基金的管理费按前一日基金资产净值的%s年费率计提。托管费按%s年费率计提。
申购费率随申购金额递减，赎回费率随持有期限递减。

# 第三节 基金托管人

基金托管人为%s，负责保管基金财产并监督基金管理人的投资运作。

# 第四节 投资目标

在严格控制风险的前提下，力争实现基金资产的长期稳健增值。
`

const announcementTemplate = `关于%s基金经理变更的公告

自%s起，%s担任本基金基金经理，%s不再担任本基金基金经理。
`

var (
	fundTypes      = []string{"混合型", "股票型", "债券型", "货币市场型", "指数型"}
	managementFees = []string{"0.50%", "0.80%", "1.00%", "1.20%", "1.50%"}
	custodyFees    = []string{"0.10%", "0.15%", "0.20%", "0.25%"}
	surnames       = []string{"张", "王", "李", "赵", "陈", "刘", "杨", "黄"}
	givenNames     = []string{"伟", "芳", "敏", "静", "磊", "洋", "勇", "艳"}
	themes         = []string{"价值", "成长", "稳健", "优选", "红利", "创新", "均衡", "量化"}
	custodians     = []string{
		"中国建设银行股份有限公司",
		"中国工商银行股份有限公司",
		"招商银行股份有限公司",
		"交通银行股份有限公司",
	}
)

type manifestEntry struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Kind        string `yaml:"kind"`
	FundCode    string `yaml:"fund_code"`
	PublishedAt string `yaml:"published_at"`
}

type suiteCase struct {
	ID       string   `yaml:"id"`
	Question string   `yaml:"question"`
	Document string   `yaml:"document"`
	Sources  []string `yaml:"sources"`
	Contains []string `yaml:"contains"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	docsDir := filepath.Join(*outputDir, "documents")
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d funds in %s (seed=%d)\n", *numFunds, *outputDir, *seed)

	var manifest struct {
		Documents []manifestEntry `yaml:"documents"`
	}
	var suite struct {
		Cases []suiteCase `yaml:"cases"`
	}
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < *numFunds; i++ {
		code := fmt.Sprintf("%06d", 100000+i)
		name := fmt.Sprintf("%s%s%s证券投资基金", pick(rng, themes), pick(rng, themes), pick(rng, fundTypes))
		fee := pick(rng, managementFees)
		manager, previous := person(rng), person(rng)
		published := start.AddDate(0, 0, i%365)

		prospectusID := code + "-prospectus"
		prospectus := fmt.Sprintf(prospectusTemplate,
			name, name, code, pick(rng, fundTypes), fee, pick(rng, custodyFees), pick(rng, custodians))
		noticeID := code + "-manager-change"
		notice := fmt.Sprintf(announcementTemplate, name, published.Format("2006年1月2日"), manager, previous)

		if err := write(docsDir, prospectusID+".md", prospectus); err != nil {
			fail(err)
		}
		if err := write(docsDir, noticeID+".txt", notice); err != nil {
			fail(err)
		}

		manifest.Documents = append(manifest.Documents,
			manifestEntry{ID: prospectusID, Title: name + "招募说明书", Kind: "prospectus", FundCode: code, PublishedAt: published.Format("2006-01-02")},
			manifestEntry{ID: noticeID, Title: "关于" + name + "基金经理变更的公告", Kind: "announcement", FundCode: code, PublishedAt: published.Format("2006-01-02")},
		)
		suite.Cases = append(suite.Cases,
			suiteCase{ID: code + "-fee", Question: "本基金的管理费率是多少", Document: prospectusID, Sources: []string{prospectusID}, Contains: []string{fee}},
			suiteCase{ID: code + "-manager", Question: "现任基金经理是谁", Document: noticeID, Sources: []string{noticeID}, Contains: []string{manager}},
		)

		if (i+1)%100 == 0 {
			fmt.Printf("  %d/%d funds\n", i+1, *numFunds)
		}
	}

	if err := writeYAML(filepath.Join(docsDir, "documents.yaml"), &manifest); err != nil {
		fail(err)
	}
	if err := writeYAML(filepath.Join(*outputDir, "suite.yaml"), &suite); err != nil {
		fail(err)
	}

	fmt.Printf("Generated %d documents and %d cases.\n", len(manifest.Documents), len(suite.Cases))
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func person(rng *rand.Rand) string {
	return pick(rng, surnames) + pick(rng, givenNames) + pick(rng, givenNames)
}

func write(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
