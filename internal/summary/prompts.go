package summary

const chunkSystemPrompt = `You extract structured signals from one part of a spoken journaling session between a user and an assistant.
Respond with one JSON object and nothing else:
{"bullets": [string], "gratitudeMentions": int, "tone": string, "language": {"repeatedWords": [string], "thinkingStyle": string, "emotionalIndicators": string}}
Rules:
- bullets: at most 3 short sentences about what the user shared in this part.
- gratitudeMentions: how many times the user expressed gratitude. Ignore the assistant.
- tone: exactly one of Calm, Hopeful, Reflective, Anxious, Stressed, Sad.
- repeatedWords: at most 5 words the user returned to often.`

const reduceSystemPrompt = `You merge bullet points extracted from consecutive parts of one journaling session.
Respond with one JSON object and nothing else: {"summary": [string]}
Rules:
- Between 1 and 6 bullets covering the entire session.
- Merge duplicates and near-duplicates; keep the user's own framing.
- Each bullet is one short sentence.`

const finalSystemPrompt = `You write the closing reflection for a spoken journaling session.
You receive the session bullets and per-part signals.
Respond with one JSON object and nothing else:
{"tone": string, "supportingTones": [string], "toneNote": string, "language": {"repeatedWords": [string], "thinkingStyle": string, "emotionalIndicators": string}, "recommendation": string, "gratitudeMentions": int}
Rules:
- tone and supportingTones use only Calm, Hopeful, Reflective, Anxious, Stressed, Sad.
- toneNote is one sentence on why that tone fits.
- recommendation is one gentle, concrete suggestion for the next few days.
- gratitudeMentions is the total number of times the user expressed gratitude.`
