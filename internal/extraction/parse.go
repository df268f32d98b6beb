package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// extractPrompt is the shared prompt used by all LLM providers
const extractPrompt = `You are analyzing a photograph of a purchase receipt or invoice. Carefully read all text in the image and extract the following information:

1. **Merchant**: The store or business name, usually the largest text at the top of the receipt.

2. **Description**: A short human-readable summary of the purchase, e.g. "Groceries at Market X".

3. **Date**: The transaction or invoice date, converted to ISO 8601 format (YYYY-MM-DD).

4. **Amount**: The final total or amount due as a positive number, e.g. 42.75 for $42.75.

5. **Payment method hint**: How the purchase was paid if visible ("card", "cash", "transfer"), otherwise null.

6. **Tax ID hint**: Any tax/VAT identification number printed on the receipt, otherwise null.

7. **Suggested category and subcategory**: Your best guess at a spending category (e.g. "Groceries", "Transport", "Dining") and an optional subcategory.

8. **Confidence**: An integer from 0 to 100 expressing how confident you are in the extracted fields overall.

Return ONLY valid JSON in this exact format:
{
  "merchant": "Store Name",
  "description": "Brief description",
  "date": "YYYY-MM-DD",
  "amount": 0.00,
  "payment_method_hint": "card",
  "tax_id_hint": null,
  "suggested_category": "Groceries",
  "suggested_subcategory": null,
  "confidence": 0
}

Important:
- The date must be in YYYY-MM-DD format
- The amount must be a positive number (not a string)
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// parseResultJSON parses the JSON response from an extraction provider
func parseResultJSON(text string) (*Result, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	result.Raw = json.RawMessage(text)

	// Normalize the date to YYYY-MM-DD; an unparseable date is dropped
	// rather than guessed, so the commit stage can flag it as missing
	if result.Date != "" {
		result.Date = normalizeDate(result.Date)
	}

	result.Merchant = strings.TrimSpace(result.Merchant)
	result.Description = strings.TrimSpace(result.Description)
	if result.Description == "" {
		result.Description = result.Merchant
	}

	// Extracted amounts are positive magnitudes; sign is applied at commit
	result.Amount = math.Abs(result.Amount)

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 100 {
		result.Confidence = 100
	}

	return &result, nil
}

// normalizeDate converts common receipt date formats to YYYY-MM-DD.
// Returns an empty string when no format matches.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
		"02.01.2006",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, raw); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}
