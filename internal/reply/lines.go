package reply

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// Acknowledgments are canned replies used when generation fails.
var Acknowledgments = []string{
	"Haan bhai sahi baat hai.",
	"Sahi hai yaar.",
	"Achha, aur bata.",
	"Hmm, phir kya hua?",
	"Lol sach mein?",
	"Haan yaar, wahi toh.",
	"Bilkul bhai, point hai.",
	"Arre haan, maine bhi yahi socha tha.",
}

var starterTemplates = []string{
	"Aur bhai %s, kya chal raha hai aajkal?",
	"Oye %s, kidhar gayab hai bhai?",
	"Hello %s, mausam kaisa hai wahan?",
}

var icebreakerTemplates = []string{
	"Waise %s ke baare mein kya sochta hai tu?",
	"Bore ho raha hai yaar, %s pe baat karein?",
	"Acha sun, %s pe tera kya scene hai?",
}

// Starter returns an opening line addressed to partner.
func Starter(partner string) string {
	return fmt.Sprintf(starterTemplates[rand.IntN(len(starterTemplates))], partner)
}

// CannedIcebreaker returns a fallback line that brings up topic.
func CannedIcebreaker(topic string) string {
	return fmt.Sprintf(icebreakerTemplates[rand.IntN(len(icebreakerTemplates))], topic)
}

// Acknowledgment returns a random canned reply.
func Acknowledgment() string {
	return Acknowledgments[rand.IntN(len(Acknowledgments))]
}

// DefaultTopics is the built-in topic pool.
var DefaultTopics = []string{
	"latest south indian movies",
	"bangalore/delhi traffic situation",
	"cricket world cup memories",
	"remote jobs vs office",
	"street food (pani puri vs momos)",
	"funny childhood school memories",
	"expensive iphones logic",
	"weekend plans",
	"college life nostalgia",
	"current political scenarios (neutral view)",
}

// TopicPool holds the process-wide conversation topic.
type TopicPool struct {
	mu      sync.Mutex
	topics  []string
	current string
	intn    func(int) int
}

// NewTopicPool creates a pool over topics (DefaultTopics when empty) with a
// random starting topic.
func NewTopicPool(topics []string, intn func(int) int) *TopicPool {
	var clean []string
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		clean = append(clean, DefaultTopics...)
	}
	if intn == nil {
		intn = rand.IntN
	}
	return &TopicPool{
		topics:  clean,
		current: clean[intn(len(clean))],
		intn:    intn,
	}
}

// Current returns the topic in effect.
func (p *TopicPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Rotate switches to a different topic and returns it. With a single topic
// the pool stays put.
func (p *TopicPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.topics) < 2 {
		return p.current
	}
	next := p.topics[p.intn(len(p.topics)-1)]
	if next == p.current {
		next = p.topics[len(p.topics)-1]
	}
	p.current = next
	return next
}
