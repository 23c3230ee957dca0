// Package vlm holds the two LLM roles of the pipeline: the Observer (vision
// model describing keyframes) and the Evaluator (text model judging the
// observations against the policy). Both speak the OpenAI chat wire format
// through the shared aiclient machinery.
package vlm

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/technosupport/ts-comply/internal/aiclient"
	"github.com/technosupport/ts-comply/internal/schema"
)

// batchSize is the maximum surveillance frames per observer call. Each
// enabled reference image occupies an image slot of its own, so the effective
// batch shrinks with the reference count, never below one frame.
const batchSize = 5

const observerMaxTokens = 1500

// Observer sends keyframes to the vision model and returns structured
// per-frame observations.
type Observer struct {
	client *aiclient.Client
}

func NewObserver(client *aiclient.Client) *Observer {
	return &Observer{client: client}
}

// Observe describes all keyframes. Batches run concurrently; a failed batch
// degrades to "[VLM ERROR]" placeholder observations for its frames rather
// than failing the whole stage.
func (o *Observer) Observe(ctx context.Context, keyframes []schema.KeyframeData, policy schema.Policy) ([]schema.FrameObservation, error) {
	if len(keyframes) == 0 {
		return nil, nil
	}

	effective := policy.Effective()
	policyContext := buildPolicyContext(effective)

	perBatch := batchSize - len(effective.ReferenceImages)
	if perBatch < 1 {
		perBatch = 1
	}

	var batches [][]schema.KeyframeData
	for i := 0; i < len(keyframes); i += perBatch {
		end := i + perBatch
		if end > len(keyframes) {
			end = len(keyframes)
		}
		batches = append(batches, keyframes[i:end])
	}

	results := make([][]schema.FrameObservation, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []schema.KeyframeData) {
			defer wg.Done()
			obs, err := o.observeBatch(ctx, batch, policyContext, effective)
			if err != nil {
				log.Printf("[ERROR] VLM: batch %d/%d failed: %v", i+1, len(batches), err)
				obs = placeholderObservations(batch, err)
			}
			results[i] = obs
		}(i, batch)
	}
	wg.Wait()

	var all []schema.FrameObservation
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (o *Observer) observeBatch(ctx context.Context, batch []schema.KeyframeData, policyContext string, policy schema.Policy) ([]schema.FrameObservation, error) {
	raw, err := o.client.Chat(ctx, buildBatchMessages(batch, policyContext, policy), aiclient.ChatOptions{
		MaxTokens:   observerMaxTokens,
		Temperature: lowTemperature(),
	})
	if err != nil {
		return nil, err
	}

	items, ok := parseObservationArray(raw)
	if !ok {
		// Degraded mode: the whole response becomes the observation for
		// every frame in the batch. Ugly but still evaluable.
		log.Printf("[WARN] VLM: response was not a JSON array, using raw text for %d frame(s)", len(batch))
		items = nil
		for _, kf := range batch {
			items = append(items, observationItem{Timestamp: kf.Timestamp, Description: raw})
		}
	}

	observations := make([]schema.FrameObservation, 0, len(batch))
	for i, kf := range batch {
		desc := "No observation returned for this frame."
		var people []schema.PersonDetail
		if i < len(items) {
			desc = items[i].Description
			for _, p := range items[i].People {
				people = append(people, schema.PersonDetail{
					PersonID:   p.PersonID,
					Appearance: p.Appearance,
					Details:    p.Details,
				})
			}
		}
		observations = append(observations, schema.FrameObservation{
			Timestamp:   kf.Timestamp,
			Description: desc,
			Trigger:     kf.Trigger,
			ChangeScore: kf.ChangeScore,
			ImageBase64: kf.ImageBase64,
			People:      people,
		})
	}
	return observations, nil
}

// buildBatchMessages assembles the observer call: intro text with timestamps
// and policy focus, then reference images (labeled, before the surveillance
// frames so the model reads them as context), then the frames themselves.
func buildBatchMessages(batch []schema.KeyframeData, policyContext string, policy schema.Policy) []aiclient.Message {
	tsList := ""
	for i, kf := range batch {
		if i > 0 {
			tsList += ", "
		}
		tsList += fmt.Sprintf("%gs", kf.Timestamp)
	}

	text := fmt.Sprintf("Analyze the following %d frame(s) from a surveillance video (timestamps: %s).", len(batch), tsList)
	if policyContext != "" {
		text += "\n\n" + policyContext
	}
	if refCtx := buildReferenceContext(policy.ReferenceImages); refCtx != "" {
		text += "\n" + refCtx
	}

	parts := []aiclient.Part{aiclient.TextPart(text)}
	for i, ref := range policy.ReferenceImages {
		parts = append(parts,
			aiclient.TextPart(fmt.Sprintf("[REFERENCE %d: %s]", i+1, ref.Label)),
			aiclient.ImagePart(ref.ImageBase64, aiclient.DetailLow),
		)
	}
	if len(policy.ReferenceImages) > 0 {
		parts = append(parts, aiclient.TextPart("[SURVEILLANCE FRAMES BELOW]"))
	}
	for _, kf := range batch {
		parts = append(parts, aiclient.ImagePart(kf.ImageBase64, aiclient.DetailLow))
	}

	return []aiclient.Message{
		aiclient.SystemMessage(observerSystemPrompt),
		aiclient.UserMessage(parts...),
	}
}

func placeholderObservations(batch []schema.KeyframeData, err error) []schema.FrameObservation {
	out := make([]schema.FrameObservation, 0, len(batch))
	for _, kf := range batch {
		out = append(out, schema.FrameObservation{
			Timestamp:   kf.Timestamp,
			Description: fmt.Sprintf("[VLM ERROR] %v", err),
			Trigger:     kf.Trigger,
			ChangeScore: kf.ChangeScore,
			ImageBase64: kf.ImageBase64,
		})
	}
	return out
}

// lowTemperature pins factual description output.
func lowTemperature() *float64 {
	t := 0.1
	return &t
}
