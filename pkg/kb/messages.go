package kb

import "github.com/wakb/wakb/pkg/util"

// User-visible fallback messages for every terminal state of the pipeline.
// The bot serves mixed Hebrew/English groups; the script heuristic (any
// non-ASCII rune in the question) selects the Hebrew variant.

type fallbackMessage struct {
	english string
	hebrew  string
}

var (
	msgGroupsOnly = fallbackMessage{
		english: "The knowledge base is only available in groups 🙏",
		hebrew:  "מאגר הידע זמין רק בקבוצות 🙏",
	}
	msgGroupTrouble = fallbackMessage{
		english: "I'm having trouble accessing this group's knowledge base right now. Please try again later 🙏",
		hebrew:  "יש לי בעיה בגישה למאגר הידע של הקבוצה כרגע. נסו שוב מאוחר יותר 🙏",
	}
	msgNotConfigured = fallbackMessage{
		english: "The knowledge base hasn't been set up for any group yet. Ask an admin to enable topic loading 🛠️",
		hebrew:  "מאגר הידע עדיין לא הוגדר לאף קבוצה. בקשו ממנהל להפעיל טעינת נושאים 🛠️",
	}
	msgEmpty = fallbackMessage{
		english: "The knowledge base is still empty - no topics have been loaded yet. Try again after the next ingestion run 📭",
		hebrew:  "מאגר הידע עדיין ריק - טרם נטענו נושאים. נסו שוב אחרי הטעינה הבאה 📭",
	}
	msgUnavailable = fallbackMessage{
		english: "The knowledge base is unavailable right now. Please try again later 🙏",
		hebrew:  "מאגר הידע אינו זמין כרגע. נסו שוב מאוחר יותר 🙏",
	}
	msgTechIssue = fallbackMessage{
		english: "I hit a technical issue while processing your question. Please try again in a bit 🔧",
		hebrew:  "נתקלתי בבעיה טכנית בעיבוד השאלה. נסו שוב עוד מעט 🔧",
	}
	msgSearchTrouble = fallbackMessage{
		english: "I had trouble searching the knowledge base. Please try again in a bit 🔧",
		hebrew:  "הייתה לי בעיה בחיפוש במאגר הידע. נסו שוב עוד מעט 🔧",
	}
	msgNothingFound = fallbackMessage{
		english: "I couldn't find relevant information about this in the group's knowledge base 🤷",
		hebrew:  "לא מצאתי מידע רלוונטי על זה במאגר הידע של הקבוצה 🤷",
	}
	msgLowConfidence = fallbackMessage{
		english: "I found some loosely related topics, but nothing I'm confident answers your question. Could you rephrase or add more detail? 🤔",
		hebrew:  "מצאתי נושאים קשורים באופן רופף, אבל שום דבר שאני בטוח שעונה על השאלה. אפשר לנסח מחדש או להוסיף פרטים? 🤔",
	}
	msgGenerateTrouble = fallbackMessage{
		english: "I found relevant topics but failed to compose an answer. Please try again 🔧",
		hebrew:  "מצאתי נושאים רלוונטיים אבל לא הצלחתי לנסח תשובה. נסו שוב 🔧",
	}
)

var truncationNotice = fallbackMessage{
	english: "\n\n_(answer truncated)_",
	hebrew:  "\n\n_(התשובה קוצרה)_",
}

// localize picks the message variant matching the question's script.
func localize(msg fallbackMessage, question string) string {
	if util.ContainsNonASCII(question) {
		return msg.hebrew
	}
	return msg.english
}
