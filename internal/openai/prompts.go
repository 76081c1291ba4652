package openai

const parseProgrammePrompt = `You convert strength training programmes written in free text into JSON.
Respond with a single JSON object of the form:
{"name": string, "weeks": number, "days": [{"name": string, "exercises": [{"name": string, "sets": number, "reps": string, "intensity": string, "rest": string, "notes": string}]}], "notes": string}
Keep exercise names as written. Use reps as a string so ranges like "8-12" and "AMRAP" survive. Omit fields you cannot infer.`

const analyzeTrainingPrompt = `You are an experienced strength coach reviewing a lifter's recent training log.
Respond with a single JSON object of the form:
{"summary": string, "strengths": [string], "weaknesses": [string], "recommendations": [string]}
Base every point on the data provided. Keep each list to at most five short items.`
