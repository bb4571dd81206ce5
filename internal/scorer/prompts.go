package scorer

// Prompt templates for scoring and analysis.

const triageCategories = "fed_policy, inflation, job_market, macro_data, earnings, equities, rates_fx, credit, banks, consumer_spending, capex, commodities, energy, metals_mining, geopolitical, sanctions, tech_business, ai_advancement, crypto, noise"

const batchTriagePromptFormat = `You are a financial markets triage agent. Score these tweets 0-10 for relevance to macro/investing.

Categories (assign 1-3 that apply): ` + triageCategories + `

Tweets:
%s

Return a JSON array with one object per tweet, in order:
[{"id": "tweet_id", "score": 7, "categories": ["fed_policy", "rates_fx"], "summary": "One-liner", "tickers": ["TLT"]}]`

const enrichmentPromptFormat = `You are a financial analyst. Analyze this tweet for actionable insights.

Tweet: %s
Author: @%s (%s)
Quoted: %s
Linked article: %s
Media context: %s

Provide:
1. Signal tier: high_signal | market_relevant | news | noise
2. Key insight (1-2 sentences)
3. Investment implications with specific tickers
4. Any emerging narratives this connects to

Return JSON:
{"signal_tier": "high_signal", "insight": "...", "implications": "...", "narratives": ["Fed pivot"], "tickers": ["TLT"]}`

const summarizePromptFormat = `Summarize this tweet concisely while preserving all key market-relevant information, data points, and actionable insights. Keep ticker symbols and specific numbers.

Tweet by @%s:
%s

Provide a summary in 2-4 sentences (under 400 characters). Return only the summary text, no JSON.`

const documentSummaryPromptFormat = `Summarize the following document text in 2 concise lines.
Do not start with "This text" or similar phrasing.
Highlight the most important facts, numbers, or claims.
Return only the two lines, no JSON.

Document text:
%s
`

const articleSummaryPromptFormat = `You are a buy-side markets analyst. Analyze this X article and return structured output.

Title: %s
Preview: %s
Article text:
%s

Return JSON only:
{
  "short_summary": "2-4 concise lines max",
  "primary_points": [
    {
      "point": "Main claim or takeaway",
      "reasoning": "Why this point is argued",
      "evidence": "Specific figures, comparisons, or facts from article"
    }
  ],
  "actionable_items": [
    {
      "action": "Monitor/position/hedge idea",
      "trigger": "What confirms or invalidates",
      "horizon": "near_term|medium_term|long_term",
      "confidence": 0.0,
      "tickers": ["GOOGL"]
    }
  ]
}

Rules:
- Include at most 6 primary_points.
- Include actionable_items only when evidence supports action; otherwise return [].
- Confidence must be between 0 and 1.
- Keep every statement grounded in the article text.
`

const mediaPrompt = `Analyze this image from a financial Twitter post.

Determine if it is a chart, a table/spreadsheet, a document/screen with coherent prose, or a meme/photo/other.

Return JSON:
{
  "kind": "chart|table|document|screenshot|meme|photo|other",
  "short_description": "very short description (3-8 words)",
  "prose_text": "FULL text if it's coherent prose; otherwise empty string",
  "prose_summary": "two concise lines summarizing the prose; otherwise empty string",
  "chart": {
    "type": "line|bar|candlestick|heatmap|other",
    "description": "what data is shown",
    "insight": "key visual insight",
    "implication": "investment implication",
    "tickers": ["AAPL"]
  },
  "table": {
    "title": "optional table title",
    "description": "what data the table shows",
    "columns": ["Col1", "Col2", "Col3"],
    "rows": [["val1", "val2", "val3"]],
    "summary": "2-line summary of key insights from the data",
    "tickers": ["AAPL"]
  }
}

Include the chart object only for charts, the table object only for tables.`
