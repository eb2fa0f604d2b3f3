package summarize

const summaryPrompt = `Analyze this document graph and generate a comprehensive JSON summary.

Document Graph Data:
%s

Identify the key topics and main points, extract important data from tables and
charts, and infer semantic relationships beyond the spatial layout.

Return JSON with this structure:
{
  "summary": "Brief document summary",
  "key_topics": ["topic1", "topic2"],
  "main_points": [{"point": "...", "supporting_elements": ["element_id"]}],
  "data_insights": [{"type": "table|chart|figure", "element_id": "id", "insight": "..."}],
  "semantic_relationships": [{"from_element": "id1", "to_element": "id2",
    "relationship": "explains|supports|contradicts|extends", "description": "..."}],
  "metadata": {"total_elements": 0, "element_types": {}, "pages_analyzed": 0}
}

Return only the JSON, no additional text.`

const answerPrompt = `Given this document graph and user query, retrieve relevant context.

Query: %s

Document Graph:
%s

Return JSON:
{
  "relevant_elements": ["element_id1", "element_id2"],
  "answer": "Direct answer to the query",
  "supporting_text": "Relevant excerpts",
  "confidence": 0.95
}`
