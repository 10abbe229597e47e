package devserver

import (
	"hash/fnv"
	"strings"
)

// cannedReplies stand in for the retrieval-augmented model.
var cannedReplies = []string{
	"Bulgarian universities typically require:\n\n- **Secondary school diploma** (or equivalent)\n- **Entrance exams** for certain programs\n- **Language proficiency** (Bulgarian or English)\n- **Application documents** including transcripts and ID\n\nWould you like details about a specific university?",
	"The application deadlines vary by university:\n\n1. **Winter semester**: July-August\n2. **Summer semester**: January-February\n\nI recommend checking the specific university's website for exact dates. Which university interests you?",
	"Popular programs for international students include:\n\n- **Medicine & Dentistry** (English-taught)\n- **Engineering** at Technical University of Sofia\n- **Business & Economics** at UNWE\n- **IT & Computer Science** at Sofia University\n\nWhat field are you interested in?",
}

var replyKeywords = []struct {
	words []string
	reply int
}{
	{[]string{"require", "admission", "document", "изискван", "документ"}, 0},
	{[]string{"deadline", "date", "when", "срок", "кога"}, 1},
	{[]string{"program", "course", "field", "специалност", "програм"}, 2},
}

// pickReply chooses a canned reply for question. Keyword matches win,
// anything else maps to a stable reply by hash.
func pickReply(question string) string {
	q := strings.ToLower(question)
	for _, k := range replyKeywords {
		for _, w := range k.words {
			if strings.Contains(q, w) {
				return cannedReplies[k.reply]
			}
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(q))
	return cannedReplies[int(h.Sum32()%uint32(len(cannedReplies)))]
}

// splitWords cuts reply into word-sized chunks that concatenate back to it.
func splitWords(reply string) []string {
	return strings.SplitAfter(reply, " ")
}
