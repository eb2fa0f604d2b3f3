package recognition

const layoutPrompt = `Analyze this document page and extract its layout as JSON.

Return an object with:
- "elements": array of {"id", "type", "text", "bbox": [x1, y1, x2, y2], "confidence",
  "is_chart", "metadata"}. type is one of paragraph, table, chart, image, heading,
  list, footer, header, caption, shape. For tables put the cells in
  metadata.table_structure.cell_text as an array of rows. For charts put
  chart_type, chart_title and chart_axes in metadata.
- "relationships": array of {"from", "to", "type"} between element ids, with type
  one of above, below, left_of, right_of, contains, describes, references.
- "chart_count": number of charts on the page.

Return only the JSON object.`

const textPagePrompt = `The page image is unavailable. Infer the layout from the
extracted page text below using the same JSON format.`

const chartPrompt = `Extract the data of chart number %d on this page as JSON with
"chart_type", "title", "x_axis", "y_axis", "series" (array of {"name", "values"})
and "insights". Return only the JSON object.`
