// Package backward distills multi-turn Q&A transcripts into chapterized
// OSPA rows: background extraction, chapter aggregation, per-chapter
// prompt synthesis, and row emission.
package backward

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ospa-ai/relay/pkg/agents"
	"github.com/ospa-ai/relay/pkg/config"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/ospa"
	"github.com/ospa-ai/relay/pkg/usage"
)

// DefaultConcurrency caps the fan-out of extraction and prompt synthesis.
const DefaultConcurrency = 3

// UnclassifiedChapter receives items the aggregation response dropped.
const UnclassifiedChapter = "Unclassified"

// Request is one pipeline run.
type Request struct {
	QALists          []ospa.QAList
	ChapterStructure *ospa.ChapterStructure
	MaxLevel         int
	Setting          config.Setting
}

// Result carries the grown chapter forest, the emitted rows, and a log of
// what the run did.
type Result struct {
	ChapterStructure *ospa.ChapterStructure
	OSPAList         []ospa.Row
	OperationLog     []string
	Counter          *usage.Counter
}

// Pipeline runs the backward distillation. The prompt cache is shared
// across runs, keyed by chapter name and member item ids.
type Pipeline struct {
	concurrency int

	mu          sync.Mutex
	promptCache map[string]string
}

func NewPipeline(concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pipeline{
		concurrency: concurrency,
		promptCache: make(map[string]string),
	}
}

// chapter is one validated group of items on its way to row emission.
type chapter struct {
	name   string
	reason string
	items  []ospa.BQAItem
	prompt string
}

// Run executes the four stages in order. Extraction and prompt synthesis
// fan out under the concurrency cap; aggregation is a single call.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	setting := req.Setting
	setting.Normalize()
	if err := setting.Validate(); err != nil {
		return nil, err
	}

	counter := usage.NewCounter()
	engine := llms.Get(setting.LLMConfig())
	var log []string

	bqaLists, err := p.extract(ctx, engine, req.QALists, counter)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, list := range bqaLists {
		total += len(list.Items)
	}
	log = append(log, fmt.Sprintf("extracted %d items from %d lists", total, len(bqaLists)))

	if total == 0 {
		return &Result{
			ChapterStructure: structureOf(req),
			OperationLog:     log,
			Counter:          counter,
		}, nil
	}

	chapters, aggLog, err := p.aggregate(ctx, engine, bqaLists, counter)
	if err != nil {
		return nil, err
	}
	log = append(log, aggLog...)

	structure, mergeLog, err := p.attach(ctx, engine, structureOf(req), req.MaxLevel, chapters, counter)
	if err != nil {
		return nil, err
	}
	log = append(log, mergeLog...)

	promptLog, err := p.synthesizePrompts(ctx, engine, chapters, counter)
	if err != nil {
		return nil, err
	}
	log = append(log, promptLog...)

	var rows []ospa.Row
	for _, ch := range chapters {
		for _, item := range ch.items {
			rows = append(rows, ospa.Row{
				Observation: item.Question,
				State:       ch.name,
				Prompt:      ch.prompt,
				Answer:      item.Answer,
			})
		}
	}
	log = append(log, fmt.Sprintf("emitted %d rows across %d chapters", len(rows), len(chapters)))

	return &Result{
		ChapterStructure: structure,
		OSPAList:         rows,
		OperationLog:     log,
		Counter:          counter,
	}, nil
}

// extract runs BQA extraction per list, capped by the pipeline concurrency.
// Results keep the input list order.
func (p *Pipeline) extract(ctx context.Context, engine *llms.Client, lists []ospa.QAList, counter *usage.Counter) ([]ospa.BQAList, error) {
	extractor := agents.NewBQAExtractAgent(engine)
	out := make([]ospa.BQAList, len(lists))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, list := range lists {
		i, list := i, list
		g.Go(func() error {
			bqa, err := extractor.Step(gctx, list, counter)
			if err != nil {
				return err
			}
			out[i] = bqa
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// aggregate groups all items into chapters with one call and enforces the
// partition invariants: unknown indices are skipped, duplicates keep their
// first chapter, and dropped items land in the Unclassified chapter.
func (p *Pipeline) aggregate(ctx context.Context, engine *llms.Client, lists []ospa.BQAList, counter *usage.Counter) ([]*chapter, []string, error) {
	drafts, err := agents.NewAggChaptersAgent(engine).Step(ctx, lists, counter)
	if err != nil {
		return nil, nil, err
	}

	byIndex := make(map[string]ospa.BQAItem)
	var allIndices []string
	for li, list := range lists {
		for ii, item := range list.Items {
			key := fmt.Sprintf("%d-%d", li+1, ii+1)
			byIndex[key] = item
			allIndices = append(allIndices, key)
		}
	}

	var log []string
	assigned := make(map[string]bool)
	var chapters []*chapter
	for _, draft := range drafts {
		ch := &chapter{name: draft.ChapterName, reason: draft.Reason}
		for _, idx := range draft.QAs {
			idx = strings.Trim(idx, "[] ")
			item, known := byIndex[idx]
			if !known {
				log = append(log, fmt.Sprintf("chapter %q references unknown index %s", draft.ChapterName, idx))
				continue
			}
			if assigned[idx] {
				log = append(log, fmt.Sprintf("index %s already assigned, kept first chapter", idx))
				continue
			}
			assigned[idx] = true
			ch.items = append(ch.items, item)
		}
		if len(ch.items) > 0 {
			chapters = append(chapters, ch)
		}
	}

	var dropped []ospa.BQAItem
	for _, idx := range allIndices {
		if !assigned[idx] {
			dropped = append(dropped, byIndex[idx])
		}
	}
	if len(dropped) > 0 {
		slog.Warn("aggregation dropped items", "count", len(dropped))
		log = append(log, fmt.Sprintf("%d items not classified, assigned to %q", len(dropped), UnclassifiedChapter))
		chapters = append(chapters, &chapter{
			name:   UnclassifiedChapter,
			reason: "items the aggregation response did not place",
			items:  dropped,
		})
	}

	log = append(log, fmt.Sprintf("aggregated into %d chapters", len(chapters)))
	return chapters, log, nil
}

// attach grows the chapter forest. With an existing structure, each new
// chapter is classified against the nodes within max_level; a match at
// max_level absorbs the chapter's items instead of deepening the tree.
func (p *Pipeline) attach(ctx context.Context, engine *llms.Client, structure *ospa.ChapterStructure, maxLevel int, chapters []*chapter, counter *usage.Counter) (*ospa.ChapterStructure, []string, error) {
	classifier := agents.NewAggChaptersAgent(engine)
	var log []string

	for _, ch := range chapters {
		candidates := structure.NodesAtMaxLevel(maxLevel)
		ids := itemIDs(ch.items)

		parentID := ""
		if len(candidates) > 0 {
			titles := make([]string, 0, len(candidates))
			for _, node := range candidates {
				titles = append(titles, node.Title)
			}
			idx, err := classifier.Classify(ctx, ch.name, titles, counter)
			if err != nil {
				return nil, nil, err
			}
			if idx >= 0 {
				match := candidates[idx]
				if maxLevel > 0 && structure.Level(match.ID) >= maxLevel {
					match.RelatedCQAIDs = append(match.RelatedCQAIDs, ids...)
					log = append(log, fmt.Sprintf("merged chapter %q into node %q at max level", ch.name, match.Title))
					ch.name = match.Title
					continue
				}
				parentID = match.ID
				log = append(log, fmt.Sprintf("attached chapter %q under %q", ch.name, match.Title))
			}
		}

		if _, err := structure.AddNode(&ospa.ChapterNode{
			Title:         ch.name,
			Reason:        ch.reason,
			RelatedCQAIDs: ids,
		}, parentID); err != nil {
			return nil, nil, err
		}
	}
	return structure, log, nil
}

// synthesizePrompts fills each chapter's guidance prompt, fanning out under
// the concurrency cap. Cache hits skip the LLM; a failed synthesis falls
// back to the default prompt.
func (p *Pipeline) synthesizePrompts(ctx context.Context, engine *llms.Client, chapters []*chapter, counter *usage.Counter) ([]string, error) {
	promptAgent := agents.NewChapterPromptAgent(engine)

	var mu sync.Mutex
	var log []string
	appendLog := func(entry string) {
		mu.Lock()
		log = append(log, entry)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, ch := range chapters {
		ch := ch
		g.Go(func() error {
			key := promptKey(ch.name, itemIDs(ch.items))
			if cached, ok := p.cachedPrompt(key); ok {
				ch.prompt = cached
				appendLog(fmt.Sprintf("prompt for chapter %q served from cache", ch.name))
				return nil
			}

			prompt, err := promptAgent.Step(gctx, ch.name, ch.items, counter)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("prompt synthesis failed, using default", "chapter", ch.name, "error", err)
				prompt = agents.DefaultChapterPrompt(ch.name)
				appendLog(fmt.Sprintf("prompt synthesis failed for chapter %q, default applied", ch.name))
			} else {
				appendLog(fmt.Sprintf("synthesized prompt for chapter %q", ch.name))
			}

			ch.prompt = prompt
			p.storePrompt(key, prompt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return log, nil
}

func (p *Pipeline) cachedPrompt(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prompt, ok := p.promptCache[key]
	return prompt, ok
}

func (p *Pipeline) storePrompt(key, prompt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.promptCache[key] = prompt
}

func promptKey(chapterName string, ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return chapterName + "|" + strings.Join(sorted, ",")
}

func itemIDs(items []ospa.BQAItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.CQAID)
	}
	return ids
}

func structureOf(req Request) *ospa.ChapterStructure {
	if req.ChapterStructure != nil {
		return req.ChapterStructure
	}
	return ospa.NewChapterStructure()
}
